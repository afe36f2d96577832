package ingest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"statusflow/internal/config"
	"statusflow/pkg/models"
)

const UnknownModuleState = "Unknown"

// RandomStates is the pool used when ingest.state_source is "random".
var RandomStates = []string{"Online", "Run", "NotReady", "Offline"}

var ErrMalformed = errors.New("malformed status document")

// Element names are matched by local name only, so any namespace on the root
// is accepted. Single-valued elements are slices so that the first occurrence
// wins when an element repeats.
type statusDocument struct {
	XMLName        xml.Name
	PackageID      []string       `xml:"PackageID"`
	DeviceStatuses []deviceStatus `xml:"DeviceStatus"`
}

type deviceStatus struct {
	ModuleCategoryID   []string `xml:"ModuleCategoryID"`
	RapidControlStatus []string `xml:"RapidControlStatus"`
}

type controlStatus struct {
	XMLName     xml.Name
	ModuleState []string `xml:"ModuleState"`
}

type Parser struct {
	stateSource string
	now         func() time.Time
	pick        func(n int) int
}

func NewParser(stateSource string) *Parser {
	return &Parser{
		stateSource: stateSource,
		now:         time.Now,
		pick:        rand.IntN,
	}
}

// Parse converts a status document into a message with one update per
// DeviceStatus element. Empty or malformed input returns ErrMalformed.
func (p *Parser) Parse(content []byte) (*models.StatusMessage, error) {
	content, err := decodeBOM(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrMalformed)
	}

	var doc statusDocument
	if err := decodeDocument(bytes.NewReader(content), &doc, documentCharsetReader); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	b := models.NewStatusMessageBuilder().
		WithPackageID(valueOr(doc.PackageID, models.UnknownPackageID)).
		WithTimestamp(p.now())

	for _, ds := range doc.DeviceStatuses {
		b.WithModule(valueOr(ds.ModuleCategoryID, models.UnknownModuleID), p.moduleState(ds))
	}
	return b.Build(), nil
}

func (p *Parser) moduleState(ds deviceStatus) string {
	if p.stateSource == config.StateSourceRandom {
		return RandomStates[p.pick(len(RandomStates))]
	}
	if len(ds.RapidControlStatus) == 0 {
		return UnknownModuleState
	}
	return parseControlState(ds.RapidControlStatus[0])
}

// parseControlState reads ModuleState from the XML fragment embedded as text
// in RapidControlStatus. The fragment is already decoded, so its declared
// encoding is ignored.
func parseControlState(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return UnknownModuleState
	}

	var cs controlStatus
	if err := decodeDocument(strings.NewReader(fragment), &cs, passthroughCharsetReader); err != nil {
		return UnknownModuleState
	}
	return valueOr(cs.ModuleState, UnknownModuleState)
}

// decodeBOM strips a UTF-8 byte order mark and transcodes UTF-16 input that
// starts with a BOM. Content without a BOM is returned unchanged.
func decodeBOM(content []byte) ([]byte, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode byte order mark: %w", err)
	}
	return decoded, nil
}

// decodeDocument decodes exactly one root element and rejects trailing
// content other than comments, processing instructions and whitespace.
func decodeDocument(r io.Reader, v interface{}, cr func(string, io.Reader) (io.Reader, error)) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = cr
	if err := dec.Decode(v); err != nil {
		return err
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return errors.New("unexpected content after root element")
			}
		default:
			return errors.New("unexpected content after root element")
		}
	}
}

// documentCharsetReader decodes declared legacy encodings. A UTF-16 label on
// a document the decoder could already read is treated as UTF-8.
func documentCharsetReader(label string, input io.Reader) (io.Reader, error) {
	if isUTF16(label) {
		return input, nil
	}
	return charset.NewReaderLabel(label, input)
}

func passthroughCharsetReader(label string, input io.Reader) (io.Reader, error) {
	return input, nil
}

func isUTF16(label string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(label)), "utf-16")
}

func valueOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	if s := strings.TrimSpace(values[0]); s != "" {
		return s
	}
	return fallback
}
