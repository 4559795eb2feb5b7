package intent

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// actionPattern is a weighted trigger for a single Action. RequiredSlots
// names the parameter keys that must be extractable from the utterance for
// the pattern to count as a full (non-clarifying) match.
type actionPattern struct {
	Action        Action
	Regexes       []*regexp.Regexp
	Weight        float64
	RequiredSlots []string
}

// Parser turns raw text into a structured Intent. It never panics and
// never returns an error: malformed or low-signal input degrades to a
// low-confidence or unknown intent, optionally paired with a
// Clarification.
type Parser struct {
	ConfidenceThreshold    float64
	ClarificationThreshold float64
	SaturationWeight       float64
	patterns               []actionPattern
}

func NewParser() *Parser {
	p := &Parser{
		ConfidenceThreshold:    0.75,
		ClarificationThreshold: 0.35,
		SaturationWeight:       1.2,
	}
	p.patterns = defaultPatterns()
	return p
}

func defaultPatterns() []actionPattern {
	return []actionPattern{
		{
			Action:        ActionCheckBalance,
			Weight:        1.0,
			RequiredSlots: nil,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bbalance\b`),
				regexp.MustCompile(`(?i)\bhow much (do i have|is in|left)\b`),
			},
		},
		{
			Action:        ActionFreezeCard,
			Weight:        0.9,
			RequiredSlots: nil,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bfreeze\b.*\bcard\b`),
				regexp.MustCompile(`(?i)\block\b.*\bcard\b`),
			},
		},
		{
			Action:        ActionCreateCard,
			Weight:        0.9,
			RequiredSlots: nil,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(create|issue|make)\b.*\bcard\b`),
				regexp.MustCompile(`(?i)\bnew card\b`),
			},
		},
		{
			Action:        ActionSwap,
			Weight:        0.9,
			RequiredSlots: []string{"source_type", "target_type"},
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bswap\b`),
				regexp.MustCompile(`(?i)\bconvert\b.*\bto\b`),
				regexp.MustCompile(`(?i)\bexchange\b.*\bfor\b`),
			},
		},
		{
			Action:        ActionFundCard,
			Weight:        0.6,
			RequiredSlots: []string{"amount", "target_type"},
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bfund\b.*\bcard\b`),
				regexp.MustCompile(`(?i)\badd\b.*\bto\b.*\bcard\b`),
				regexp.MustCompile(`(?i)\bload\b.*\bcard\b`),
			},
		},
		{
			Action:        ActionTransfer,
			Weight:        0.6,
			RequiredSlots: []string{"amount", "target_type"},
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bsend\b`),
				regexp.MustCompile(`(?i)\btransfer\b`),
				regexp.MustCompile(`(?i)\bpay\b`),
			},
		},
		{
			Action:        ActionQuery,
			Weight:        0.3,
			RequiredSlots: nil,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(what|when|where|who|why|how)\b`),
			},
		},
	}
}

var amountExtractRe = regexp.MustCompile(`(?i)[$€£]\s?[\d,]+(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(usd|eur|gbp|dollars?|euros?|pounds?)\b|\b(zero|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty|forty|fifty|sixty|seventy|eighty|ninety|hundred)\b(?:\s+(dollars?|euros?|pounds?))?`)

var targetTypeHints = map[string]string{
	"card":     "card",
	"wallet":   "wallet",
	"account":  "account",
	"exchange": "exchange",
}

// Parse maps raw text to a structured Intent, returning a non-nil
// Clarification when confidence falls in the clarification band.
func (p *Parser) Parse(rawText string) (Intent, *Clarification) {
	normalized := normalize(rawText)

	intent := Intent{
		IntentID: uuid.NewString(),
		RawText:  rawText,
		Action:   ActionUnknown,
	}

	if normalized == "" {
		return intent, nil
	}

	slots := extractSlots(normalized, rawText)

	best, bestWeight := p.match(normalized, slots)
	if best == nil {
		return intent, nil
	}

	saturation := p.SaturationWeight
	if saturation <= 0 {
		saturation = 1.0
	}
	confidence := bestWeight / saturation
	if confidence > 1 {
		confidence = 1
	}

	intent.Action = best.Action
	intent.Confidence = confidence
	intent.Parameters = slots
	if amt, ok := slots["amount"]; ok {
		if a, ok := amt.(Amount); ok {
			intent.Amount = &a
		}
	}
	if tt, ok := slots["target_type"].(string); ok {
		intent.TargetType = tt
	}
	if st, ok := slots["source_type"].(string); ok {
		intent.SourceType = st
	}
	if cur := DetectCurrency(rawText); cur != "" {
		intent.Currency = cur
	}

	if confidence >= p.ConfidenceThreshold {
		if missing := missingSlots(best, slots); len(missing) == 0 {
			return intent, nil
		}
		return intent, clarificationFor(best, missing)
	}

	if confidence >= p.ClarificationThreshold {
		missing := missingSlots(best, slots)
		if len(missing) == 0 {
			return intent, nil
		}
		return intent, clarificationFor(best, missing)
	}

	return Intent{
		IntentID: intent.IntentID,
		RawText:  rawText,
		Action:   ActionUnknown,
	}, nil
}

func (p *Parser) match(normalized string, slots map[string]any) (*actionPattern, float64) {
	var best *actionPattern
	var bestWeight float64

	for i := range p.patterns {
		pat := &p.patterns[i]
		var matched bool
		for _, re := range pat.Regexes {
			if re.MatchString(normalized) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		w := pat.Weight
		if w < bestWeight {
			continue
		}
		if w > bestWeight {
			best = pat
			bestWeight = w
			continue
		}

		// Equal weight: prefer the pattern whose required slots are
		// all present.
		if best == nil {
			best = pat
			continue
		}
		if len(missingSlots(pat, slots)) < len(missingSlots(best, slots)) {
			best = pat
		}
	}

	return best, bestWeight
}

func missingSlots(pat *actionPattern, slots map[string]any) []string {
	var missing []string
	for _, slot := range pat.RequiredSlots {
		if _, ok := slots[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}

func clarificationFor(pat *actionPattern, missing []string) *Clarification {
	slot := missing[0]
	var question string
	var options []string

	switch slot {
	case "amount":
		question = "How much would you like to move?"
	case "target_type":
		question = "Where should this go — card, wallet, or account?"
		options = []string{"card", "wallet", "account"}
	case "source_type":
		question = "What should this come from — card, wallet, or account?"
		options = []string{"card", "wallet", "account"}
	default:
		question = "Could you clarify what you'd like to do?"
	}

	if len(options) > 4 {
		options = options[:4]
	}

	return &Clarification{
		Question: question,
		Options:  options,
		Blocking: true,
	}
}

func normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > 4096 {
		s = s[:4096]
	}
	return s
}

func extractSlots(normalized, rawText string) map[string]any {
	slots := map[string]any{}

	if loc := amountExtractRe.FindString(normalized); loc != "" {
		if amt, ok := ParseAmount(loc); ok {
			slots["amount"] = amt
		}
	}

	lower := strings.ToLower(normalized)
	for keyword, canonical := range targetTypeHints {
		if strings.Contains(lower, "to "+keyword) || strings.Contains(lower, "into "+keyword) ||
			strings.Contains(lower, "to my "+keyword) || strings.Contains(lower, "into my "+keyword) {
			slots["target_type"] = canonical
		}
		if strings.Contains(lower, "from "+keyword) || strings.Contains(lower, "from my "+keyword) {
			slots["source_type"] = canonical
		}
	}

	return slots
}
