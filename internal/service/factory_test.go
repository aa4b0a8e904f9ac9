package service_test

import (
	"context"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/core/config"
	"basegraph.app/parley/internal/platform/local"
	"basegraph.app/parley/internal/service"
)

var _ = Describe("NewServices", func() {
	var (
		ctx context.Context
		cfg config.Config
		clk *clock.FakeClock
	)

	BeforeEach(func() {
		ctx = context.Background()
		clk = clock.Fake(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
		cfg = config.Config{
			NodeID: 1,
			LLM:    config.LLMConfig{Provider: "anthropic", APIKey: "test-key", Model: "claude-test", MaxTokens: 1024},
			Conversation: config.ConversationConfig{
				FollowUpTimeout: 5 * time.Minute,
				MaxFollowUps:    5,
			},
			Context: config.ContextConfig{
				MessageLimit:   50,
				TokenBudget:    100000,
				PreserveRecent: 5,
				TokenEstimator: "chars",
			},
			Orchestrator: config.OrchestratorConfig{MaxToolRounds: 5},
		}
	})

	It("assembles the pipeline with an in-process page cache", func() {
		svc, err := service.NewServices(ctx, cfg, local.New(io.Discard), clk)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(svc.Close)

		Expect(svc.Responder()).NotTo(BeNil())
		Expect(svc.Tracker()).NotTo(BeNil())

		_, seen := svc.Tracker().Snapshot("local")
		Expect(seen).To(BeFalse())
	})

	It("opens the source root when configured", func() {
		cfg.Source.Root = GinkgoT().TempDir()

		svc, err := service.NewServices(ctx, cfg, local.New(io.Discard), clk)
		Expect(err).NotTo(HaveOccurred())
		svc.Close()
	})

	It("rejects a missing source root", func() {
		cfg.Source.Root = "/definitely/not/here"

		_, err := service.NewServices(ctx, cfg, local.New(io.Discard), clk)
		Expect(err).To(MatchError(ContainSubstring("opening source root")))
	})

	It("rejects an unknown provider", func() {
		cfg.LLM.Provider = "mystery"

		_, err := service.NewServices(ctx, cfg, local.New(io.Discard), clk)
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("rejects a malformed redis url", func() {
		cfg.Fetcher.RedisURL = "not a url"

		_, err := service.NewServices(ctx, cfg, local.New(io.Discard), clk)
		Expect(err).To(MatchError(ContainSubstring("parsing redis url")))
	})
})
