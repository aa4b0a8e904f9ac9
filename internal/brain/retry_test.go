package brain_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/internal/brain"
)

var _ = Describe("RetryingClient", func() {
	var (
		ctx    context.Context
		inner  *fakeLLM
		clk    *clock.FakeClock
		client llm.AgentClient
	)

	overloaded := &llm.APIError{Provider: llm.ProviderAnthropic, StatusCode: llm.StatusOverloaded, Err: errors.New("overloaded")}

	BeforeEach(func() {
		ctx = context.Background()
		inner = &fakeLLM{}
		clk = clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		client = brain.NewRetryingClient(inner, clk)
	})

	It("returns the first successful response without waiting", func() {
		resp, err := client.ChatWithTools(ctx, llm.AgentRequest{})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Content).To(Equal("ok"))
		Expect(inner.calls()).To(Equal(1))
		Expect(clk.Slept()).To(BeEmpty())
	})

	It("succeeds on the third attempt after 1s and 2s delays", func() {
		inner.chatFn = func(_ context.Context, _ llm.AgentRequest, call int) (*llm.AgentResponse, error) {
			if call < 3 {
				return nil, overloaded
			}
			return textResponse("finally"), nil
		}

		resp, err := client.ChatWithTools(ctx, llm.AgentRequest{})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Content).To(Equal("finally"))
		Expect(inner.calls()).To(Equal(3))
		Expect(clk.Slept()).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
	})

	It("gives up after three attempts", func() {
		inner.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
			return nil, &llm.APIError{Provider: llm.ProviderOpenAI, StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
		}

		_, err := client.ChatWithTools(ctx, llm.AgentRequest{})

		Expect(err).To(MatchError(brain.ErrRetriesExhausted))
		Expect(llm.Classify(err)).To(Equal(llm.ClassTransient))
		Expect(inner.calls()).To(Equal(3))
		Expect(clk.Slept()).To(HaveLen(2))
	})

	It("retries network errors", func() {
		inner.chatFn = func(_ context.Context, _ llm.AgentRequest, call int) (*llm.AgentResponse, error) {
			if call == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return textResponse("ok"), nil
		}

		_, err := client.ChatWithTools(ctx, llm.AgentRequest{})

		Expect(err).NotTo(HaveOccurred())
		Expect(inner.calls()).To(Equal(2))
	})

	DescribeTable("does not retry non-transient errors",
		func(failure error) {
			inner.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
				return nil, failure
			}

			_, err := client.ChatWithTools(ctx, llm.AgentRequest{})

			Expect(err).To(MatchError(failure))
			Expect(inner.calls()).To(Equal(1))
			Expect(clk.Slept()).To(BeEmpty())
		},
		Entry("rate limited", &llm.APIError{Provider: "anthropic", StatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")}),
		Entry("bad request", &llm.APIError{Provider: "anthropic", StatusCode: http.StatusBadRequest, Err: errors.New("bad")}),
		Entry("unexpected response", llm.ErrUnexpectedResponse),
	)

	It("stops waiting when the context is canceled", func() {
		canceled, cancel := context.WithCancel(ctx)
		inner.chatFn = func(context.Context, llm.AgentRequest, int) (*llm.AgentResponse, error) {
			cancel()
			return nil, overloaded
		}

		_, err := client.ChatWithTools(canceled, llm.AgentRequest{})

		Expect(err).To(HaveOccurred())
		Expect(inner.calls()).To(Equal(1))
	})

	It("reports the inner model", func() {
		Expect(client.Model()).To(Equal("fake-model"))
	})
})

var _ = Describe("UserMessageFor", func() {
	DescribeTable("maps failures to apologies",
		func(err error, expected string) {
			Expect(brain.UserMessageFor(err)).To(Equal(expected))
		},
		Entry("retries exhausted", errors.Join(brain.ErrRetriesExhausted, errors.New("overloaded")), brain.MsgServersBusy),
		Entry("overloaded", &llm.APIError{StatusCode: llm.StatusOverloaded}, brain.MsgServersBusy),
		Entry("rate limited", &llm.APIError{StatusCode: http.StatusTooManyRequests}, brain.MsgRateLimited),
		Entry("unexpected shape", llm.ErrUnexpectedResponse, brain.MsgUnexpected),
		Entry("bad request", &llm.APIError{StatusCode: http.StatusBadRequest}, brain.MsgGeneric),
		Entry("canceled", context.Canceled, brain.MsgGeneric),
	)
})
