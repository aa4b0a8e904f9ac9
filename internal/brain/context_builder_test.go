package brain_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/internal/brain"
	"basegraph.app/parley/internal/budget"
	"basegraph.app/parley/internal/fetcher"
	"basegraph.app/parley/internal/platform"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

var (
	alice = platform.User{ID: "u1", Name: "alice"}
	bob   = platform.User{ID: "u2", Name: "bob"}
)

// history builds platform messages oldest first and returns them newest first.
func history(msgs ...platform.Message) []platform.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]platform.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = "m" + string(rune('a'+i))
		}
		m.ChannelID = "c1"
		m.Timestamp = base.Add(time.Duration(i) * time.Minute)
		out[len(msgs)-1-i] = m
	}
	return out
}

var _ = Describe("ContextBuilder", func() {
	var (
		ctx     context.Context
		plat    *fakePlatform
		pages   *fakePages
		cfg     brain.ContextConfig
		builder *brain.ContextBuilder
	)

	build := func() brain.Context {
		builder = brain.NewContextBuilder(plat, pages, pages, budget.NewBudgeter(budget.CharEstimator{}), cfg)
		out, err := builder.BuildContext(ctx, "c1", 50)
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		plat = newFakePlatform()
		pages = &fakePages{downloads: map[string][]byte{}}
		cfg = brain.ContextConfig{
			TokenBudget:     100000,
			PreserveRecent:  5,
			URLFetchEnabled: true,
			URLLookback:     5,
		}
	})

	It("returns messages oldest first with roles by author", func() {
		plat.history = history(
			platform.Message{Author: alice, Content: "hi @parley"},
			platform.Message{Author: plat.self, Content: "hello!"},
			platform.Message{Author: alice, Content: "how are you"},
		)

		out := build()

		Expect(out.Messages).To(HaveLen(3))
		Expect(out.Messages[0].Role).To(Equal(llm.RoleUser))
		Expect(out.Messages[0].Content).To(Equal("alice: hi @parley"))
		Expect(out.Messages[1].Role).To(Equal(llm.RoleAssistant))
		Expect(out.Messages[1].Content).To(Equal("hello!"))
		Expect(out.Messages[2].Content).To(Equal("alice: how are you"))
		Expect(plat.fetchLimits).To(Equal([]int{50}))
	})

	It("degrades to an empty context when history cannot be fetched", func() {
		plat.fetchErr = errors.New("discord down")

		out := build()

		Expect(out.Messages).To(BeEmpty())
		Expect(out.Auxiliary).To(BeNil())
	})

	It("merges consecutive messages of the same role", func() {
		plat.history = history(
			platform.Message{Author: alice, Content: "first"},
			platform.Message{Author: bob, Content: "second"},
			platform.Message{Author: plat.self, Content: "answer"},
		)

		out := build()

		Expect(out.Messages).To(HaveLen(2))
		Expect(out.Messages[0].Text()).To(Equal("alice: first\nbob: second"))
		Expect(out.Messages[0].Name).To(BeEmpty())
	})

	It("opens with a user message when history starts with the bot", func() {
		plat.history = history(
			platform.Message{Author: plat.self, Content: "earlier answer"},
			platform.Message{Author: alice, Content: "thanks"},
		)

		out := build()

		Expect(out.Messages).To(HaveLen(3))
		Expect(out.Messages[0].Role).To(Equal(llm.RoleUser))
		Expect(out.Messages[1].Role).To(Equal(llm.RoleAssistant))
	})

	It("replaces unsupported attachments with placeholders", func() {
		plat.history = history(platform.Message{
			Author:  alice,
			Content: "see attached",
			Attachments: []platform.Attachment{
				{ID: "a1", Filename: "report.pdf", ContentType: "application/pdf"},
				{ID: "a2", Filename: "notes"},
			},
		})

		out := build()

		Expect(out.Messages[0].Content).To(Equal("alice: see attached\n[Attachment: report.pdf (application/pdf)]\n[Attachment: notes (unknown type)]"))
	})

	Describe("images", func() {
		It("includes verified images as image parts", func() {
			pages.downloads["https://cdn/cat.png"] = pngBytes
			plat.history = history(platform.Message{
				Author:      alice,
				Content:     "look",
				Attachments: []platform.Attachment{{ID: "a1", Filename: "cat.png", URL: "https://cdn/cat.png", ContentType: "image/png"}},
			})

			out := build()

			Expect(out.HasImages).To(BeTrue())
			msg := out.Messages[0]
			Expect(msg.HasImages()).To(BeTrue())
			Expect(msg.Parts).To(HaveLen(2))
			Expect(msg.Parts[0].Text).To(Equal("alice: look"))
			Expect(msg.Parts[1].MediaType).To(Equal("image/png"))
			Expect(msg.Parts[1].Data).To(Equal(pngBytes))
		})

		It("classifies by extension when no content type is declared", func() {
			pages.downloads["https://cdn/cat.png"] = pngBytes
			plat.history = history(platform.Message{
				Author:      alice,
				Attachments: []platform.Attachment{{ID: "a1", Filename: "cat.PNG", URL: "https://cdn/cat.png"}},
			})

			out := build()

			Expect(out.Messages[0].HasImages()).To(BeTrue())
			Expect(out.Messages[0].Parts[0].Text).To(Equal("alice shared an image:"))
		})

		DescribeTable("substitutes a placeholder for unusable images",
			func(data []byte, size int, reason string) {
				if data != nil {
					pages.downloads["https://cdn/x.jpg"] = data
				}
				plat.history = history(platform.Message{
					Author:      alice,
					Content:     "pic",
					Attachments: []platform.Attachment{{ID: "a1", Filename: "x.jpg", URL: "https://cdn/x.jpg", ContentType: "image/jpeg", Size: size}},
				})

				out := build()

				msg := out.Messages[0]
				Expect(msg.HasImages()).To(BeFalse())
				Expect(msg.Content).To(ContainSubstring("[Image: x.jpg (" + reason))
			},
			Entry("signature mismatch", pngBytes, 0, "unreadable or not a valid jpeg"),
			Entry("corrupt bytes", []byte("definitely not an image"), 0, "unreadable"),
			Entry("empty payload", []byte{}, 0, "empty file"),
			Entry("declared oversize", nil, fetcher.MaxImageBytes+1, "larger than 10 MB"),
			Entry("download failure", nil, 0, "could not be downloaded"),
		)

		It("only sends the newest images inline", func() {
			var msgs []platform.Message
			for i := range 6 {
				url := "https://cdn/" + string(rune('a'+i)) + ".png"
				pages.downloads[url] = pngBytes
				msgs = append(msgs,
					platform.Message{Author: alice, Content: "img", Attachments: []platform.Attachment{{ID: url, Filename: "p.png", URL: url, ContentType: "image/png"}}},
					platform.Message{Author: plat.self, Content: "nice"},
				)
			}
			plat.history = history(msgs...)

			out := build()

			images := 0
			for _, m := range out.Messages {
				for _, p := range m.Parts {
					if p.Type == llm.PartImage {
						images++
					}
				}
			}
			Expect(images).To(Equal(4))
			Expect(out.Messages[0].Content).To(ContainSubstring("[Image: p.png]"))
		})
	})

	Describe("linked pages", func() {
		It("fetches the most recently mentioned URL", func() {
			plat.history = history(
				platform.Message{Author: alice, Content: "old link https://old.example.com"},
				platform.Message{Author: bob, Content: "what's 2+2 and check https://example.com."},
			)

			out := build()

			Expect(pages.fetchedURLs()).To(Equal([]string{"https://example.com"}))
			Expect(out.Auxiliary).NotTo(BeNil())
			Expect(out.Auxiliary.Title).To(Equal("Example Domain"))
		})

		It("ignores URLs outside the lookback window", func() {
			cfg.URLLookback = 1
			plat.history = history(
				platform.Message{Author: alice, Content: "https://example.com"},
				platform.Message{Author: bob, Content: "no links here"},
			)

			out := build()

			Expect(out.Auxiliary).To(BeNil())
			Expect(pages.fetchedURLs()).To(BeEmpty())
		})

		It("truncates long pages", func() {
			pages.fetchFn = func(_ context.Context, url string) (fetcher.Page, error) {
				return fetcher.Page{URL: url, Content: strings.Repeat("x", 9000)}, nil
			}
			plat.history = history(platform.Message{Author: alice, Content: "<https://example.com/long>"})

			out := build()

			Expect(out.Auxiliary.URL).To(Equal("https://example.com/long"))
			Expect(len([]rune(out.Auxiliary.Content))).To(BeNumerically("<=", fetcher.MaxTextChars+len("\n\n[Content truncated]")))
		})

		It("keeps going when the fetch fails", func() {
			pages.fetchFn = func(context.Context, string) (fetcher.Page, error) {
				return fetcher.Page{}, errors.New("timeout")
			}
			plat.history = history(platform.Message{Author: alice, Content: "https://example.com"})

			out := build()

			Expect(out.Auxiliary).To(BeNil())
			Expect(out.Messages).To(HaveLen(1))
		})

		It("does nothing when disabled", func() {
			cfg.URLFetchEnabled = false
			plat.history = history(platform.Message{Author: alice, Content: "https://example.com"})

			build()

			Expect(pages.fetchedURLs()).To(BeEmpty())
		})
	})

	It("trims old messages to the token budget and keeps the recent tail", func() {
		var msgs []platform.Message
		for range 20 {
			msgs = append(msgs,
				platform.Message{Author: alice, Content: strings.Repeat("q", 400)},
				platform.Message{Author: plat.self, Content: strings.Repeat("a", 400)},
			)
		}
		plat.history = history(msgs...)
		cfg.TokenBudget = 1000
		cfg.URLFetchEnabled = false

		out := build()

		Expect(out.Dropped).To(BeNumerically(">", 0))
		Expect(out.Messages[0].Role).To(Equal(llm.RoleUser))
		Expect(out.Messages[0].Text()).To(ContainSubstring("earlier messages omitted"))
		Expect(out.Messages[len(out.Messages)-1].Content).To(Equal(strings.Repeat("a", 400)))
		for i := 1; i < len(out.Messages); i++ {
			Expect(out.Messages[i].Role).NotTo(Equal(out.Messages[i-1].Role))
		}
	})
})
