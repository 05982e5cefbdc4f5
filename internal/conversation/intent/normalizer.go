package intent

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const MaxQuantity = 50

var ErrInvalidQuantity = errors.New("INVALID_QUANTITY")

// Raw is the structured result returned by the language-understanding service.
type Raw struct {
	Intent        string      `json:"intent"`
	Confidence    *float64    `json:"confidence,omitempty"`
	Item          string      `json:"item,omitempty"`
	ItemReference string      `json:"item_reference,omitempty"`
	Quantity      interface{} `json:"quantity,omitempty"`
	Modification  string      `json:"modification,omitempty"`
	Modifications []string    `json:"modifications,omitempty"`
	Ordinal       string      `json:"ordinal,omitempty"`
	Items         []RawItem   `json:"items,omitempty"`
	Text          string      `json:"text,omitempty"`
}

type RawItem struct {
	Item          string      `json:"item"`
	Quantity      interface{} `json:"quantity,omitempty"`
	Modifications []string    `json:"modifications,omitempty"`
}

const rawSchema = `{
  "type": "object",
  "required": ["intent"],
  "definitions": {
    "quantity": {
      "oneOf": [
        {"type": "integer", "minimum": 1},
        {"type": "string", "minLength": 1}
      ]
    },
    "modifications": {"type": "array", "items": {"type": "string"}}
  },
  "properties": {
    "intent": {
      "type": "string",
      "enum": ["greeting", "add_item", "order_item", "remove_item", "modify_item",
               "confirm", "confirm_order", "deny", "end_order", "done",
               "unknown", "unclear", "select"]
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "item": {"type": "string"},
    "item_reference": {"type": "string"},
    "quantity": {"$ref": "#/definitions/quantity"},
    "modification": {"type": "string"},
    "modifications": {"$ref": "#/definitions/modifications"},
    "ordinal": {"type": "string"},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["item"],
        "properties": {
          "item": {"type": "string"},
          "quantity": {"$ref": "#/definitions/quantity"},
          "modifications": {"$ref": "#/definitions/modifications"}
        }
      }
    },
    "text": {"type": "string"}
  }
}`

var (
	rawSchemaOnce sync.Once
	rawSchemaC    *gojsonschema.Schema
	rawSchemaErr  error
)

func compiledRawSchema() (*gojsonschema.Schema, error) {
	rawSchemaOnce.Do(func() {
		rawSchemaC, rawSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(rawSchema))
	})
	return rawSchemaC, rawSchemaErr
}

type NormalizerConfig struct {
	// MinConfidence below which a classification is treated as not understood.
	MinConfidence float64
}

// Normalizer validates raw results and maps them onto Intent values. It never fails: input
// it cannot use becomes Unknown.
type Normalizer struct {
	config NormalizerConfig
}

func NewNormalizer(config NormalizerConfig) *Normalizer {
	return &Normalizer{config: config}
}

// Normalize maps one raw result to a single intent. A multi-item add yields its first item;
// use NormalizeAll to keep every item.
func (n *Normalizer) Normalize(raw Raw, phase Phase) Intent {
	return n.NormalizeAll(raw, phase)[0]
}

// NormalizeAll maps one raw result to the intents it carries, in utterance order. The result
// is never empty.
func (n *Normalizer) NormalizeAll(raw Raw, phase Phase) []Intent {
	raw.Intent = strings.ToLower(strings.TrimSpace(raw.Intent))

	if err := validateRaw(raw); err != nil {
		return []Intent{Unknown{RawText: raw.Text, Reason: ReasonMalformed}}
	}
	if raw.Confidence != nil && *raw.Confidence < n.config.MinConfidence {
		return []Intent{Unknown{RawText: raw.Text, Reason: ReasonLowConfidence}}
	}

	switch raw.Intent {
	case "greeting":
		return []Intent{Greeting{}}
	case "add_item", "order_item":
		return n.addItems(raw)
	case "remove_item":
		return []Intent{n.removeItem(raw)}
	case "modify_item":
		return []Intent{n.modifyItem(raw)}
	case "confirm", "confirm_order":
		return []Intent{Confirm{}}
	case "deny":
		return []Intent{Deny{}}
	case "end_order", "done":
		return []Intent{EndOrder{}}
	case "select":
		return []Intent{n.selection(raw, phase)}
	default:
		return []Intent{Unknown{RawText: raw.Text, Reason: ReasonUnrecognized}}
	}
}

func validateRaw(raw Raw) error {
	schema, err := compiledRawSchema()
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("raw intent validation failed: %v", errs)
	}
	return nil
}

func (n *Normalizer) addItems(raw Raw) []Intent {
	if len(raw.Items) > 0 {
		var out []Intent
		for _, it := range raw.Items {
			if add, ok := buildAdd(it.Item, it.Quantity, it.Modifications); ok {
				out = append(out, add)
			}
		}
		if len(out) == 0 {
			return []Intent{Unknown{RawText: raw.Text, Reason: ReasonMalformed}}
		}
		return out
	}

	mods := raw.Modifications
	if raw.Modification != "" {
		mods = append([]string{raw.Modification}, mods...)
	}
	add, ok := buildAdd(raw.Item, raw.Quantity, mods)
	if !ok {
		return []Intent{Unknown{RawText: raw.Text, Reason: ReasonMalformed}}
	}
	return []Intent{add}
}

func buildAdd(item string, qty interface{}, mods []string) (AddItem, bool) {
	phrase := strings.TrimSpace(item)
	if phrase == "" {
		return AddItem{}, false
	}
	q, err := ParseQuantity(qty, 1)
	if err != nil {
		return AddItem{}, false
	}
	return AddItem{ItemPhrase: phrase, Quantity: q, Modifications: normalizeMods(mods)}, true
}

func (n *Normalizer) removeItem(raw Raw) Intent {
	ref := firstNonEmpty(raw.ItemReference, raw.Item)
	if ref == "" {
		return Unknown{RawText: raw.Text, Reason: ReasonMalformed}
	}
	q, err := ParseQuantity(raw.Quantity, 0)
	if err != nil {
		return Unknown{RawText: raw.Text, Reason: ReasonMalformed}
	}
	return RemoveItem{ItemReference: ref, Quantity: q}
}

func (n *Normalizer) modifyItem(raw Raw) Intent {
	ref := firstNonEmpty(raw.ItemReference, raw.Item)
	mods := normalizeMods(append([]string{raw.Modification}, raw.Modifications...))
	if ref == "" || len(mods) == 0 {
		return Unknown{RawText: raw.Text, Reason: ReasonMalformed}
	}
	return ModifyItem{ItemReference: ref, Modification: mods[0]}
}

// selection handles a bare choice ("the second one", "the supreme"). It only means something
// while a clarification question is open; otherwise a named item is read as an add.
func (n *Normalizer) selection(raw Raw, phase Phase) Intent {
	choice := firstNonEmpty(raw.Ordinal, raw.Item, raw.ItemReference)
	if choice == "" {
		return Unknown{RawText: raw.Text, Reason: ReasonMalformed}
	}
	if phase == PhaseAwaitingClarification {
		return AddItem{ItemPhrase: choice, Quantity: 1}
	}
	if item := firstNonEmpty(raw.Item, raw.ItemReference); item != "" {
		return AddItem{ItemPhrase: item, Quantity: 1}
	}
	return Unknown{RawText: firstNonEmpty(raw.Text, choice), Reason: ReasonUnrecognized}
}

func normalizeMods(mods []string) []string {
	var out []string
	seen := make(map[string]bool, len(mods))
	for _, m := range mods {
		m = strings.Join(strings.Fields(strings.ToLower(m)), " ")
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "single": 1,
	"two": 2, "couple": 2, "a couple": 2, "pair": 2, "a pair": 2,
	"three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8,
	"nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "dozen": 12, "a dozen": 12,
}

// ParseQuantity reads a positive quantity from a JSON number, an int or a numeric or
// spelled-out string. A nil value yields def.
func ParseQuantity(v interface{}, def int) (int, error) {
	var q int
	switch t := v.(type) {
	case nil:
		return def, nil
	case int:
		q = t
	case int64:
		q = int(t)
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, t)
		}
		q = int(t)
	case string:
		s := strings.Join(strings.Fields(strings.ToLower(t)), " ")
		if s == "" {
			return def, nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			q = n
		} else if n, ok := numberWords[s]; ok {
			q = n
		} else {
			return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, t)
		}
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidQuantity, v)
	}

	if q < 1 || q > MaxQuantity {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuantity, q)
	}
	return q, nil
}
