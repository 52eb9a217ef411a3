package dhclient

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

var (
	// Lexer of the dhclient lease files. The strings may contain octal
	// escapes, e.g., the binary DUID.
	//nolint:gochecknoglobals
	leaseLexer = lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "comment", Pattern: `#[^\n]*`},
			{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
			{Name: "Ident", Pattern: `[^\s{};,"#]+`},
			{Name: "whitespace", Pattern: `\s+`},
			{Name: "Punct", Pattern: `[{};,]`},
		},
	})

	//nolint:gochecknoglobals
	leaseParser = participle.MustBuild[LeaseFile](
		participle.Lexer(leaseLexer),
		participle.Unquote("String"),
	)
)

// Parsed dhclient lease file.
type LeaseFile struct {
	Statements []*Statement `parser:"( @@ | ';' )*"`
}

// Top-level or nested lease file statement.
type Statement struct {
	DefaultDUID *string           `parser:"  'default-duid' @String ';'"`
	Generic     *GenericStatement `parser:"| @@"`
}

// Statement with arbitrary arguments, optionally followed by a block,
// e.g., lease { ... } or option routers 192.0.2.1;
type GenericStatement struct {
	Identifier string            `parser:"@Ident"`
	Switches   []StatementSwitch `parser:"( @@ )*"`
	Block      *Block            `parser:"( @@ | ';' )"`
}

// Argument of the generic statement.
type StatementSwitch struct {
	String *string `parser:"  @String"`
	Ident  *string `parser:"| @Ident"`
	Comma  bool    `parser:"| @','"`
}

// Block of the nested statements.
type Block struct {
	Statements []*Statement `parser:"'{' ( @@ | ';' )* '}'"`
}

// Returns the argument value.
func (s *StatementSwitch) GetStringValue() string {
	switch {
	case s.String != nil:
		return *s.String
	case s.Ident != nil:
		return *s.Ident
	default:
		return ","
	}
}

// Parses the lease file contents.
func ParseLeases(filename string, reader io.Reader) (*LeaseFile, error) {
	leases, err := leaseParser.Parse(filename, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dhclient lease file: %s", filename)
	}
	return leases, nil
}

// Parses the lease file. The missing file yields an empty lease file.
func ParseLeaseFile(path string) (*LeaseFile, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LeaseFile{}, nil
		}
		return nil, errors.Wrapf(err, "failed to open dhclient lease file: %s", path)
	}
	defer file.Close()
	return ParseLeases(path, file)
}

// Returns the DUID from the last default-duid statement.
func (f *LeaseFile) GetDefaultDUID() []byte {
	var duid []byte
	for _, statement := range f.Statements {
		if statement.DefaultDUID != nil && len(*statement.DefaultDUID) > 0 {
			duid = []byte(*statement.DefaultDUID)
		}
	}
	return duid
}

// Returns the top-level blocks of the leases, i.e., lease and lease6.
func (f *LeaseFile) GetLeases() []*GenericStatement {
	var leases []*GenericStatement
	for _, statement := range f.Statements {
		if statement.Generic != nil && statement.Generic.Block != nil &&
			(statement.Generic.Identifier == "lease" || statement.Generic.Identifier == "lease6") {
			leases = append(leases, statement.Generic)
		}
	}
	return leases
}

// Returns the first nested statement with the identifier.
func (s *GenericStatement) GetStatement(identifier string) *GenericStatement {
	if s.Block == nil {
		return nil
	}
	for _, statement := range s.Block.Statements {
		if statement.Generic != nil && statement.Generic.Identifier == identifier {
			return statement.Generic
		}
	}
	return nil
}

// Returns the arguments of the statement joined with spaces. The
// separating commas are dropped.
func (s *GenericStatement) GetValue() string {
	var values []string
	for _, sw := range s.Switches {
		if sw.Comma {
			continue
		}
		values = append(values, sw.GetStringValue())
	}
	return strings.Join(values, " ")
}

// Returns the value of the option with the name, e.g., routers, in the
// block of the statement.
func (s *GenericStatement) GetOptionValue(name string) string {
	if s.Block == nil {
		return ""
	}
	for _, statement := range s.Block.Statements {
		option := statement.Generic
		if option == nil || option.Identifier != "option" || len(option.Switches) == 0 {
			continue
		}
		if option.Switches[0].GetStringValue() == name {
			rest := &GenericStatement{Switches: option.Switches[1:]}
			return rest.GetValue()
		}
	}
	return ""
}

// Returns the interface of the lease.
func (s *GenericStatement) GetInterface() string {
	if iface := s.GetStatement("interface"); iface != nil {
		return iface.GetValue()
	}
	return ""
}

// Returns the address leased on the interface in the last lease, if any.
func (f *LeaseFile) GetLastAddress(iface string) string {
	address := ""
	for _, lease := range f.GetLeases() {
		if lease.Identifier != "lease" || lease.GetInterface() != iface {
			continue
		}
		if fixed := lease.GetStatement("fixed-address"); fixed != nil {
			address = fixed.GetValue()
		}
	}
	return address
}

// Escapes the DUID the way dhclient writes it: printable characters
// except the quote and the backslash are written verbatim, the others as
// octal escapes.
func escapeDUID(duid []byte) string {
	var builder strings.Builder
	for _, b := range duid {
		if b >= 0x20 && b < 0x7f && b != '"' && b != '\\' {
			builder.WriteByte(b)
		} else {
			fmt.Fprintf(&builder, "\\%03o", b)
		}
	}
	return builder.String()
}

// Writes the DUID to the lease file as its first statement. The
// previous default-duid statements are removed and the rest of the file
// is preserved.
func WriteDUID(path string, duid []byte) error {
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "cannot read dhclient lease file %s", path)
	}

	var buffer bytes.Buffer
	fmt.Fprintf(&buffer, "default-duid \"%s\";\n", escapeDUID(duid))
	for _, line := range strings.SplitAfter(string(content), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "default-duid") {
			continue
		}
		buffer.WriteString(line)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create the directory of %s", path)
	}
	err = os.WriteFile(path, buffer.Bytes(), 0o644)
	return errors.Wrapf(err, "cannot write dhclient lease file %s", path)
}
