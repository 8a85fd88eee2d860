// Package launch defines the host's "launch editor" request and its reply.
package launch

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Theme selects the surface color scheme.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ToolbarOption is a formatting control shown on the editor toolbar.
type ToolbarOption string

const (
	ToolHeading        ToolbarOption = "heading"
	ToolBold           ToolbarOption = "bold"
	ToolItalic         ToolbarOption = "italic"
	ToolUnderline      ToolbarOption = "underline"
	ToolStrikethrough  ToolbarOption = "strikethrough"
	ToolUnorderedList  ToolbarOption = "unordered-list"
	ToolOrderedList    ToolbarOption = "ordered-list"
	ToolQuote          ToolbarOption = "quote"
	ToolLink           ToolbarOption = "link"
	ToolCode           ToolbarOption = "code"
	ToolHorizontalRule ToolbarOption = "horizontal-rule"
	ToolImage          ToolbarOption = "image"
	ToolVideo          ToolbarOption = "video"
)

// AllToolbarOptions lists every option in default toolbar order.
var AllToolbarOptions = []ToolbarOption{
	ToolHeading, ToolBold, ToolItalic, ToolUnderline, ToolStrikethrough,
	ToolUnorderedList, ToolOrderedList, ToolQuote, ToolLink, ToolCode,
	ToolHorizontalRule, ToolImage, ToolVideo,
}

// Colors are optional "#RRGGBB" or "#AARRGGBB" overrides.
type Colors struct {
	Primary    string `json:"primary,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Config is the editor configuration carried by a launch request.
type Config struct {
	Title              string            `json:"title"`
	Colors             Colors            `json:"colors,omitempty"`
	Placeholder        string            `json:"placeholder,omitempty"`
	Theme              Theme             `json:"theme,omitempty"`
	AcceptedExtensions []string          `json:"accepted_extensions,omitempty"`
	Toolbar            []ToolbarOption   `json:"toolbar,omitempty"`
	AuthHeaders        map[string]string `json:"auth_headers,omitempty"`
	CharacterLimit     int               `json:"character_limit,omitempty"`
}

// Request is the single argument of the launch channel.
type Request struct {
	Content string `json:"content,omitempty"`
	Config  Config `json:"config"`
}

// Result is the launch reply. Cancelled is set when the user dismissed the
// editor without finishing; Content is then empty.
type Result struct {
	Content   string `json:"content"`
	Cancelled bool   `json:"cancelled"`
}

// Allows reports whether option is enabled on the toolbar.
func (c Config) Allows(option ToolbarOption) bool {
	for _, o := range c.Toolbar {
		if o == option {
			return true
		}
	}
	return false
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Theme == "" {
		c.Theme = ThemeSystem
	}
	if len(c.Toolbar) == 0 {
		c.Toolbar = append([]ToolbarOption(nil), AllToolbarOptions...)
	}
	return c
}

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "launch-config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ErrInvalidConfig wraps every launch configuration rejection.
var ErrInvalidConfig = errors.New("launch: invalid configuration")

var colorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// DecodeRequest parses and validates a raw launch argument.
func DecodeRequest(raw json.RawMessage) (Request, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s, err := compiledSchema()
	if err != nil {
		return Request{}, err
	}
	if err := s.Validate(instance); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := req.Config.Validate(); err != nil {
		return Request{}, err
	}
	req.Config = req.Config.WithDefaults()
	return req, nil
}

// Validate performs the checks the schema does not express.
func (c Config) Validate() error {
	var problems []string
	for name, v := range map[string]string{
		"primary":    c.Colors.Primary,
		"background": c.Colors.Background,
		"text":       c.Colors.Text,
	} {
		if v != "" && !colorRe.MatchString(v) {
			problems = append(problems, fmt.Sprintf("colors.%s: %q is not #RRGGBB or #AARRGGBB", name, v))
		}
	}
	for _, ext := range c.AcceptedExtensions {
		if strings.TrimLeft(strings.TrimSpace(ext), ".") == "" {
			problems = append(problems, "accepted_extensions: empty extension")
			break
		}
	}
	seen := make(map[ToolbarOption]bool, len(c.Toolbar))
	for _, o := range c.Toolbar {
		if seen[o] {
			problems = append(problems, fmt.Sprintf("toolbar: %q listed twice", o))
		}
		seen[o] = true
	}
	if c.CharacterLimit < 0 {
		problems = append(problems, "character_limit: must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	// Map iteration above is unordered; keep messages stable.
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}
