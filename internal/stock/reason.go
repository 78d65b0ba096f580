package stock

import (
	"strings"
	"unicode/utf8"
)

// ReasonType classifies why stock left inventory.
type ReasonType string

const (
	ReasonTransferred ReasonType = "TRANSFERRED"
	ReasonGiven       ReasonType = "GIVEN"
	ReasonExpired     ReasonType = "EXPIRED"
	ReasonLost        ReasonType = "LOST"
	ReasonUsed        ReasonType = "USED"
	ReasonDamaged     ReasonType = "DAMAGED"
	ReasonOther       ReasonType = "OTHER"
)

// MaxCustomReasonLength bounds free-text reasons.
const MaxCustomReasonLength = 100

// ReasonInfo is the catalogue entry for a reason type.
type ReasonInfo struct {
	Type        ReasonType `json:"type"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
}

var reasonCatalog = []ReasonInfo{
	{Type: ReasonTransferred, Label: "Transferred to Branch", Description: "Stock moved to another branch or location"},
	{Type: ReasonGiven, Label: "Given to Employee", Description: "Stock handed over to an employee"},
	{Type: ReasonExpired, Label: "Expired", Description: "Stock past its expiry date"},
	{Type: ReasonLost, Label: "Lost", Description: "Stock missing or unaccounted for"},
	{Type: ReasonUsed, Label: "Used", Description: "Stock consumed internally"},
	{Type: ReasonDamaged, Label: "Damaged", Description: "Stock broken or unusable"},
	{Type: ReasonOther, Label: "Other", Description: "Any other reason, described in free text"},
}

var reasonIndex = func() map[ReasonType]ReasonInfo {
	idx := make(map[ReasonType]ReasonInfo, len(reasonCatalog))
	for _, info := range reasonCatalog {
		idx[info.Type] = info
	}
	return idx
}()

// Reasons returns the reason catalogue in display order.
func Reasons() []ReasonInfo {
	out := make([]ReasonInfo, len(reasonCatalog))
	copy(out, reasonCatalog)
	return out
}

// Valid reports enum membership.
func (r ReasonType) Valid() bool {
	_, ok := reasonIndex[r]
	return ok
}

// Label returns the display label, or the raw value when unknown.
func (r ReasonType) Label() string {
	if info, ok := reasonIndex[r]; ok {
		return info.Label
	}
	return string(r)
}

// IsPredefined reports whether name is one of the enumerated reason types.
func IsPredefined(name string) bool {
	return ReasonType(strings.ToUpper(strings.TrimSpace(name))).Valid()
}

// LabelOf returns the label for raw, falling back to raw itself.
func LabelOf(raw string) string {
	if info, ok := reasonIndex[ReasonType(strings.ToUpper(strings.TrimSpace(raw)))]; ok {
		return info.Label
	}
	return raw
}

// ParseReasonType normalises raw into a ReasonType.
func ParseReasonType(raw string) (ReasonType, error) {
	rt := ReasonType(strings.ToUpper(strings.TrimSpace(raw)))
	if !rt.Valid() {
		return "", ErrInvalidReasonType
	}
	return rt, nil
}

// Reason is either a predefined type or ReasonOther carrying custom text.
type Reason struct {
	Type ReasonType
	Text string
}

// String renders the reason as stored on the movement.
func (r Reason) String() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Type.Label()
}

// NewReason builds a Reason from the free text and optional type of a request.
// Text naming a predefined type is normalised onto it; other text must fit
// MaxCustomReasonLength.
func NewReason(text, reasonType string) (Reason, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reason{}, validationErr("reason", "is required")
	}
	var typ ReasonType
	if strings.TrimSpace(reasonType) != "" {
		parsed, err := ParseReasonType(reasonType)
		if err != nil {
			return Reason{}, err
		}
		typ = parsed
	}
	if IsPredefined(text) {
		predefined := ReasonType(strings.ToUpper(text))
		if typ == "" {
			typ = predefined
		}
		return Reason{Type: typ, Text: predefined.Label()}, nil
	}
	if utf8.RuneCountInString(text) > MaxCustomReasonLength {
		return Reason{}, validationErr("reason", "must be at most 100 characters")
	}
	if typ == "" {
		typ = ReasonOther
	}
	return Reason{Type: typ, Text: text}, nil
}
