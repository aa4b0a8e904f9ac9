package budget

import (
	"fmt"
	"regexp"
	"strconv"

	"basegraph.app/parley/common/llm"
)

var noticePattern = regexp.MustCompile(`^\[(\d+) earlier messages? omitted to fit the context window\]$`)

// Result is the outcome of a Trim.
type Result struct {
	Messages        []llm.Message
	Dropped         int // older messages removed by this call
	EstimatedTokens int // estimate for Messages, notice included
}

type Budgeter struct {
	estimator Estimator
}

func NewBudgeter(estimator Estimator) *Budgeter {
	if estimator == nil {
		estimator = CharEstimator{}
	}
	return &Budgeter{estimator: estimator}
}

func (b *Budgeter) Estimate(messages []llm.Message) int {
	return b.estimator.Estimate(messages)
}

// Trim keeps the last preserveTail messages unconditionally, then adds older
// messages newest first while the running estimate stays within budget. It stops
// at the first message that does not fit. When anything is dropped a single
// notice message is put in front; the notice is not charged against budget.
//
// A leading notice from an earlier Trim is folded into the new count, so trimming
// already-trimmed input that fits returns it unchanged.
func (b *Budgeter) Trim(messages []llm.Message, budget, preserveTail int) Result {
	body := messages
	priorDropped := 0
	if n, ok := noticeCount(messages); ok {
		body = messages[1:]
		priorDropped = n
	}

	if preserveTail < 0 {
		preserveTail = 0
	}
	if preserveTail > len(body) {
		preserveTail = len(body)
	}

	split := len(body) - preserveTail
	older, tail := body[:split], body[split:]

	used := b.estimator.Estimate(tail)
	keepFrom := len(older)
	for i := len(older) - 1; i >= 0; i-- {
		cost := b.estimator.Estimate(older[i : i+1])
		if used+cost > budget {
			break
		}
		used += cost
		keepFrom = i
	}

	dropped := keepFrom
	if dropped == 0 {
		return Result{
			Messages:        messages,
			EstimatedTokens: b.estimator.Estimate(messages),
		}
	}

	kept := make([]llm.Message, 0, len(body)-dropped+1)
	kept = append(kept, Notice(priorDropped+dropped))
	kept = append(kept, body[dropped:]...)

	return Result{
		Messages:        kept,
		Dropped:         dropped,
		EstimatedTokens: b.estimator.Estimate(kept),
	}
}

// Notice builds the synthetic message that stands in for n omitted messages.
func Notice(n int) llm.Message {
	noun := "messages"
	if n == 1 {
		noun = "message"
	}
	return llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("[%d earlier %s omitted to fit the context window]", n, noun),
	}
}

// IsNotice reports whether m is a notice produced by Trim.
func IsNotice(m llm.Message) bool {
	_, ok := noticeCount([]llm.Message{m})
	return ok
}

func noticeCount(messages []llm.Message) (int, bool) {
	if len(messages) == 0 {
		return 0, false
	}
	m := messages[0]
	if m.Role != llm.RoleUser || len(m.Parts) > 0 || len(m.ToolResults) > 0 {
		return 0, false
	}
	match := noticePattern.FindStringSubmatch(m.Content)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
