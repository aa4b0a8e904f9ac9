package brain_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/internal/brain"
	"basegraph.app/parley/internal/fetcher"
)

var _ = Describe("ToolOrchestrator", func() {
	var (
		ctx          context.Context
		model        *fakeLLM
		pages        *fakePages
		orchestrator *brain.ToolOrchestrator
		turn         brain.Turn
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = &fakeLLM{}
		pages = &fakePages{}
		executor := brain.NewToolExecutor(brain.ToolBackends{
			Search: &fakeSearcher{},
			Pages:  pages,
			Source: &fakeSource{},
		}, 4)
		orchestrator = brain.NewToolOrchestrator(model, executor, brain.OrchestratorConfig{MaxToolRounds: 5, MaxTokens: 1024})
		turn = brain.Turn{
			ChannelID: "c1",
			Mode:      brain.ModeMention,
			System:    "be helpful",
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: "alice: hi"}},
		}
	})

	It("returns a direct text answer", func() {
		model.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
			return textResponse("  hello there  "), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal("hello there"))
		Expect(out.ModelCalls).To(Equal(1))
		Expect(out.Transitions).To(Equal([]brain.State{brain.StateAwaitingModel, brain.StateDone}))

		req := model.request(0)
		Expect(req.System).To(Equal("be helpful"))
		Expect(req.MaxTokens).To(Equal(1024))
		Expect(req.DisableTools).To(BeFalse())
		Expect(req.Tools).To(HaveLen(3))
	})

	It("does not modify the caller's messages", func() {
		model.chatFn = func(_ context.Context, _ llm.AgentRequest, call int) (*llm.AgentResponse, error) {
			if call == 1 {
				return toolResponse(toolCall("t1", "web_search", `{"query":"x"}`)), nil
			}
			return textResponse("done"), nil
		}

		_, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(turn.Messages).To(HaveLen(1))
	})

	It("feeds back all results of a round even when one tool fails", func() {
		pages.fetchFn = func(context.Context, string) (fetcher.Page, error) {
			return fetcher.Page{}, errors.New("connection refused")
		}
		model.chatFn = func(_ context.Context, _ llm.AgentRequest, call int) (*llm.AgentResponse, error) {
			if call == 1 {
				return toolResponse(
					toolCall("a", "web_search", `{"query":"go generics"}`),
					toolCall("b", "fetch_url", `{"url":"https://example.com"}`),
					toolCall("c", "read_source", `{"path":"go.mod"}`),
				), nil
			}
			return textResponse("here is what I found"), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal("here is what I found"))
		Expect(out.Transitions).To(Equal([]brain.State{
			brain.StateAwaitingModel,
			brain.StateExecutingTools,
			brain.StateAwaitingModel,
			brain.StateDone,
		}))

		second := model.request(1)
		Expect(second.Messages).To(HaveLen(3))

		assistant := second.Messages[1]
		Expect(assistant.Role).To(Equal(llm.RoleAssistant))
		Expect(assistant.ToolCalls).To(HaveLen(3))

		results := second.Messages[2]
		Expect(results.Role).To(Equal(llm.RoleUser))
		Expect(results.ToolResults).To(HaveLen(3))

		var failed, succeeded int
		for i, r := range results.ToolResults {
			Expect(r.CallID).To(Equal(assistant.ToolCalls[i].ID))
			if r.IsError {
				failed++
				Expect(r.Content).To(ContainSubstring("connection refused"))
			} else {
				succeeded++
			}
		}
		Expect(failed).To(Equal(1))
		Expect(succeeded).To(Equal(2))
	})

	It("forces a tools-disabled answer after the round cap", func() {
		model.chatFn = func(_ context.Context, req llm.AgentRequest, call int) (*llm.AgentResponse, error) {
			if req.DisableTools {
				return textResponse("best effort answer"), nil
			}
			return toolResponse(toolCall(fmt.Sprintf("t%d", call), "web_search", `{"query":"again"}`)), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal("best effort answer"))
		Expect(out.ModelCalls).To(Equal(6))
		Expect(model.calls()).To(Equal(6))
		Expect(out.Rounds).To(Equal(5))
		Expect(out.Final()).To(Equal(brain.StateForcedFinal))

		for i := range 5 {
			Expect(model.request(i).DisableTools).To(BeFalse())
		}
		final := model.request(5)
		Expect(final.DisableTools).To(BeTrue())
		Expect(final.Tools).NotTo(BeEmpty())
		Expect(final.Messages).To(HaveLen(11))
	})

	It("falls back to a canned answer when the forced call yields no text", func() {
		model.chatFn = func(_ context.Context, req llm.AgentRequest, _ int) (*llm.AgentResponse, error) {
			if req.DisableTools {
				return nil, llm.ErrUnexpectedResponse
			}
			return toolResponse(toolCall("t", "web_search", `{"query":"loop"}`)), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal(brain.FallbackResponse))
		Expect(model.calls()).To(Equal(6))
	})

	It("honours a smaller round cap", func() {
		executor := brain.NewToolExecutor(brain.ToolBackends{Search: &fakeSearcher{}}, 1)
		orchestrator = brain.NewToolOrchestrator(model, executor, brain.OrchestratorConfig{MaxToolRounds: 2})
		model.chatFn = func(_ context.Context, req llm.AgentRequest, _ int) (*llm.AgentResponse, error) {
			if req.DisableTools {
				return textResponse("final"), nil
			}
			return toolResponse(toolCall("t", "web_search", `{"query":"loop"}`)), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.ModelCalls).To(Equal(3))
	})

	It("returns model errors to the caller", func() {
		model.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
			return nil, &llm.APIError{Provider: llm.ProviderAnthropic, StatusCode: http.StatusTooManyRequests, Err: errors.New("rate limited")}
		}

		_, err := orchestrator.Run(ctx, turn)

		Expect(err).To(HaveOccurred())
		Expect(llm.Classify(err)).To(Equal(llm.ClassRateLimited))
		Expect(brain.UserMessageFor(err)).To(Equal(brain.MsgRateLimited))
	})

	Describe("follow-up mode", func() {
		BeforeEach(func() {
			turn.Mode = brain.ModeFollowUp
		})

		It("declines when the model answers with the marker", func() {
			model.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
				return textResponse(brain.NoResponseMarker), nil
			}

			out, err := orchestrator.Run(ctx, turn)

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Declined).To(BeTrue())
			Expect(out.Text).To(BeEmpty())
		})

		It("answers when the model replies normally", func() {
			model.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
				return textResponse("sure, it's 4"), nil
			}

			out, err := orchestrator.Run(ctx, turn)

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Declined).To(BeFalse())
			Expect(out.Text).To(Equal("sure, it's 4"))
		})
	})

	It("never declines a mention and strips the marker", func() {
		model.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
			return textResponse(brain.NoResponseMarker + " The port is 8080."), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Declined).To(BeFalse())
		Expect(out.Text).To(Equal("The port is 8080."))
	})

	It("falls back when a mention reply is only the marker", func() {
		model.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
			return textResponse(brain.NoResponseMarker), nil
		}

		out, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal(brain.FallbackResponse))
	})

	It("runs BeforeCall ahead of every model call", func() {
		calls := 0
		turn.BeforeCall = func() { calls++ }
		model.chatFn = func(_ context.Context, _ llm.AgentRequest, call int) (*llm.AgentResponse, error) {
			if call == 1 {
				return toolResponse(toolCall("t1", "web_search", `{"query":"x"}`)), nil
			}
			return textResponse("done"), nil
		}

		_, err := orchestrator.Run(ctx, turn)

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(2))
	})
})
