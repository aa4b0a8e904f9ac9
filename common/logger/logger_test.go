package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/parley/common/logger"
)

var _ = Describe("TraceHandler", func() {
	var (
		buf bytes.Buffer
		log *slog.Logger
	)

	BeforeEach(func() {
		buf.Reset()
		log = slog.New(logger.NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	})

	record := func() map[string]any {
		var out map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &out)).To(Succeed())
		return out
	}

	It("adds the context's log fields", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			ChannelID: logger.Ptr("c1"),
			TurnID:    logger.Ptr("42"),
			Component: "parley.brain.responder",
		})

		log.InfoContext(ctx, "turn started")

		out := record()
		Expect(out).To(HaveKeyWithValue("channel_id", "c1"))
		Expect(out).To(HaveKeyWithValue("turn_id", "42"))
		Expect(out).To(HaveKeyWithValue("component", "parley.brain.responder"))
		Expect(out).NotTo(HaveKey("tool"))
		Expect(out).NotTo(HaveKey("trace_id"))
	})

	It("merges newer fields over older ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			ChannelID: logger.Ptr("c1"),
			Mode:      logger.Ptr("mention"),
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{Tool: logger.Ptr("web_search")})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.ChannelID).To(Equal("c1"))
		Expect(*fields.Mode).To(Equal("mention"))
		Expect(*fields.Tool).To(Equal("web_search"))
	})

	It("skips empty values", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{GuildID: logger.Ptr("")})

		log.InfoContext(ctx, "dm")

		Expect(record()).NotTo(HaveKey("guild_id"))
	})
})

var _ = Describe("Truncate", func() {
	DescribeTable("shortens by runes",
		func(in string, n int, expected string) {
			Expect(logger.Truncate(in, n)).To(Equal(expected))
		},
		Entry("short", "hello", 10, "hello"),
		Entry("exact", "hello", 5, "hello"),
		Entry("cut", "hello world", 5, "hello..."),
		Entry("multibyte", "héllo wörld", 7, "héllo w..."),
	)
})
