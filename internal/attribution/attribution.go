// Package attribution credits revenue events to content under every
// attribution model at once.
package attribution

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

var ErrWrongRuleType = errors.New("attribution_requires_attribution_rule")

// DefaultDecayFactor applies when the resolved rule carries no factor.
const DefaultDecayFactor = 0.5

type weights map[factdomain.RevenueSource]decimal.Decimal

var (
	lastTouchWeights = weights{
		factdomain.RevenueDirect:     decimal.NewFromInt(1),
		factdomain.RevenueAssisted:   decimal.RequireFromString("0.7"),
		factdomain.RevenueAttributed: decimal.RequireFromString("0.5"),
	}
	linearWeights = weights{
		factdomain.RevenueDirect:     decimal.NewFromInt(1),
		factdomain.RevenueAssisted:   decimal.RequireFromString("0.5"),
		factdomain.RevenueAttributed: decimal.RequireFromString("0.33"),
	}
	half = decimal.RequireFromString("0.5")
)

// Attribution holds one event's credit under each model and the rule-selected one.
type Attribution struct {
	EventID          snowflake.ID                `json:"event_id"`
	ContentID        string                      `json:"content_id,omitempty"`
	Date             time.Time                   `json:"date"`
	Currency         string                      `json:"currency"`
	Source           factdomain.RevenueSource    `json:"source"`
	DaysSincePublish int                         `json:"days_since_publish"`
	LastTouch        decimal.Decimal             `json:"last_touch"`
	Linear           decimal.Decimal             `json:"linear"`
	TimeDecay        decimal.Decimal             `json:"time_decay"`
	SelectedModel    ruledomain.AttributionModel `json:"selected_model"`
	Selected         decimal.Decimal             `json:"selected"`
}

// Amount returns the credit under model.
func (a Attribution) Amount(model ruledomain.AttributionModel) decimal.Decimal {
	switch model {
	case ruledomain.AttributionLastTouch:
		return a.LastTouch
	case ruledomain.AttributionLinear:
		return a.Linear
	case ruledomain.AttributionTimeDecay:
		return a.TimeDecay
	default:
		return decimal.Zero
	}
}

// Attribute credits event. content may be nil only for campaign-level revenue
// with no content_id.
func Attribute(event factdomain.RevenueEvent, content *factdomain.Content, rule ruledomain.EffectiveRule) (Attribution, error) {
	if rule.RuleType != ruledomain.RuleTypeAttribution {
		return Attribution{}, ErrWrongRuleType
	}
	if !rule.AttributionModel.Valid() {
		return Attribution{}, fmt.Errorf("%w: unknown attribution_model %q", ruledomain.ErrInvalidFragment, rule.AttributionModel)
	}
	if !event.Source.Valid() {
		return Attribution{}, fmt.Errorf("%w: unknown revenue source %q", factdomain.ErrInvalidAmount, event.Source)
	}

	out := Attribution{
		EventID:       event.ID,
		Date:          factdomain.DateOf(event.RevenueDate),
		Currency:      event.Currency,
		Source:        event.Source,
		SelectedModel: rule.AttributionModel,
	}
	if event.ContentID != nil && *event.ContentID != "" {
		if content == nil {
			return Attribution{}, fmt.Errorf("%w: revenue %s references content %s", factdomain.ErrOrphanRevenue, event.ID, *event.ContentID)
		}
		out.ContentID = *event.ContentID
	}
	if content != nil {
		out.ContentID = content.ID
		out.DaysSincePublish = DaysSincePublish(content.PublishedAt, event.RevenueDate)
	}

	factor := rule.TimeDecayFactor
	if factor <= 0 {
		factor = DefaultDecayFactor
	}

	out.LastTouch = event.Amount.Mul(lastTouchWeights[event.Source]).Round(2)
	out.Linear = event.Amount.Mul(linearWeights[event.Source]).Round(2)
	out.TimeDecay = timeDecay(event.Amount, event.Source, factor, out.DaysSincePublish)
	out.Selected = out.Amount(rule.AttributionModel)
	return out, nil
}

// DaysSincePublish is clamped at zero for revenue dated before publication.
func DaysSincePublish(publishedAt, at time.Time) int {
	days := factdomain.DaysBetween(publishedAt, at)
	if days < 0 {
		return 0
	}
	return days
}

func timeDecay(amount decimal.Decimal, source factdomain.RevenueSource, factor float64, days int) decimal.Decimal {
	if source == factdomain.RevenueDirect {
		return amount.Round(2)
	}
	decay := decimal.NewFromFloat(math.Exp(-factor * float64(days) / 30))
	credited := amount.Mul(decay)
	if source == factdomain.RevenueAttributed {
		credited = credited.Mul(half)
	}
	return credited.Round(2)
}
