package budget_test

import (
	"fmt"
	"strings"

	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/internal/budget"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// msg returns a user message costing exactly 13 tokens under CharEstimator.
func msg(i int) llm.Message {
	text := fmt.Sprintf("message %02d ", i)
	return llm.Message{Role: llm.RoleUser, Content: text + strings.Repeat("x", 36-len(text))}
}

func msgs(n int) []llm.Message {
	out := make([]llm.Message, n)
	for i := range out {
		out[i] = msg(i)
	}
	return out
}

var _ = Describe("CharEstimator", func() {
	est := budget.CharEstimator{}

	DescribeTable("estimates single messages",
		func(m llm.Message, expected int) {
			Expect(est.Estimate([]llm.Message{m})).To(Equal(expected))
		},
		Entry("empty", llm.Message{Role: "user"}, 4),
		Entry("exact multiple of four", llm.Message{Role: "user", Content: "abcdefgh"}, 6),
		Entry("rounds up", llm.Message{Role: "user", Content: "abc"}, 5),
		Entry("counts runes, not bytes", llm.Message{Role: "user", Content: "héllo"}, 6),
		Entry("flat image cost", llm.Message{Role: "user", Parts: []llm.Part{
			llm.ImagePart("image/png", make([]byte, 4096)),
		}}, 4+budget.ImageTokenCost),
		Entry("text parts rounded separately", llm.Message{Role: "user", Parts: []llm.Part{
			llm.TextPart("a"), llm.TextPart("b"),
		}}, 6),
		Entry("tool calls and results", llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{{ID: "1", Name: "web_search", Arguments: `{"q":"go"}`}},
		}, 4+3+3),
	)

	It("sums across messages", func() {
		Expect(est.Estimate(msgs(3))).To(Equal(39))
	})
})

var _ = Describe("Budgeter.Trim", func() {
	var b *budget.Budgeter

	BeforeEach(func() {
		b = budget.NewBudgeter(budget.CharEstimator{})
	})

	It("returns within-budget input unchanged", func() {
		in := msgs(4)
		res := b.Trim(in, 1000, 2)

		Expect(res.Messages).To(Equal(in))
		Expect(res.Dropped).To(Equal(0))
		Expect(res.EstimatedTokens).To(Equal(52))
	})

	It("drops the oldest messages and adds a notice", func() {
		in := msgs(10)
		res := b.Trim(in, 60, 2)

		Expect(res.Dropped).To(Equal(6))
		Expect(res.Messages).To(HaveLen(5))
		Expect(res.Messages[0].Content).To(Equal("[6 earlier messages omitted to fit the context window]"))
		Expect(res.Messages[0].Role).To(Equal(llm.RoleUser))
		Expect(res.Messages[1:]).To(Equal(in[6:]))
	})

	It("stops at the first message that does not fit", func() {
		in := msgs(6)
		in[3] = llm.Message{Role: llm.RoleUser, Content: strings.Repeat("y", 400)}

		res := b.Trim(in, 60, 2)

		Expect(res.Dropped).To(Equal(4))
		Expect(res.Messages[1:]).To(Equal(in[4:]))
	})

	It("never removes the preserved tail", func() {
		in := msgs(5)
		in[4] = llm.Message{Role: llm.RoleUser, Content: strings.Repeat("z", 4000)}

		res := b.Trim(in, 10, 3)

		Expect(res.Dropped).To(Equal(2))
		Expect(res.Messages[1:]).To(Equal(in[2:]))
	})

	It("keeps everything when the tail covers the whole input", func() {
		in := msgs(3)
		res := b.Trim(in, 1, 5)
		Expect(res.Messages).To(Equal(in))
		Expect(res.Dropped).To(Equal(0))
	})

	It("is idempotent on its own output", func() {
		first := b.Trim(msgs(10), 60, 2)
		second := b.Trim(first.Messages, 60, 2)

		Expect(second.Messages).To(Equal(first.Messages))
		Expect(second.Dropped).To(Equal(0))
	})

	It("folds an earlier notice into the new count", func() {
		first := b.Trim(msgs(10), 60, 2)
		second := b.Trim(first.Messages, 30, 2)

		Expect(second.Dropped).To(Equal(2))
		Expect(second.Messages).To(HaveLen(3))
		Expect(second.Messages[0].Content).To(Equal("[8 earlier messages omitted to fit the context window]"))
	})

	It("treats a lone notice-shaped message as a notice", func() {
		Expect(budget.IsNotice(budget.Notice(3))).To(BeTrue())
		Expect(budget.IsNotice(llm.Message{Role: llm.RoleAssistant, Content: budget.Notice(3).Content})).To(BeFalse())
		Expect(budget.IsNotice(msg(1))).To(BeFalse())
	})
})
