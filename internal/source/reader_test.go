package source_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"basegraph.app/parley/internal/source"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	var (
		root   string
		reader *source.Reader
	)

	write := func(rel, content string) {
		full := filepath.Join(root, rel)
		Expect(os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
		Expect(os.WriteFile(full, []byte(content), 0o644)).To(Succeed())
	}

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		var lines []string
		for i := 1; i <= 300; i++ {
			lines = append(lines, fmt.Sprintf("line %d", i))
		}
		write("docs/guide.md", strings.Join(lines, "\n")+"\n")
		write("README.md", "hello\nworld\n")
		write("empty.txt", "")
		write(".env", "SECRET=1\n")
		write("node_modules/x/index.js", "x\n")

		var err error
		reader, err = source.NewReader(root)
		Expect(err).NotTo(HaveOccurred())
	})

	It("numbers lines and reports the end of file", func() {
		out, err := reader.Read("README.md", 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("     1\thello\n"))
		Expect(out).To(ContainSubstring("     2\tworld\n"))
		Expect(out).To(ContainSubstring("[Read lines 1-2 of README.md. End of file.]"))
	})

	It("defaults to 200 lines and says where the file continues", func() {
		out, err := reader.Read("docs/guide.md", 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("   200\tline 200\n"))
		Expect(out).NotTo(ContainSubstring("line 201"))
		Expect(out).To(ContainSubstring("File continues to line 300."))
	})

	It("honours offset and limit", func() {
		out, err := reader.Read("docs/guide.md", 250, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HavePrefix("   250\tline 250\n"))
		Expect(out).To(ContainSubstring("[Read lines 250-252 of docs/guide.md"))
	})

	It("reports an offset past the end", func() {
		out, err := reader.Read("README.md", 10, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("No lines at offset 10 (file has 2 lines)"))
	})

	It("reports empty files", func() {
		out, err := reader.Read("empty.txt", 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("File is empty"))
	})

	It("lists directories without hidden or vendored entries", func() {
		out, err := reader.Read("", 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("README.md"))
		Expect(out).To(ContainSubstring("docs/"))
		Expect(out).NotTo(ContainSubstring(".env"))
		Expect(out).NotTo(ContainSubstring("node_modules"))
	})

	It("keeps traversal inside the root", func() {
		_, err := reader.Read("../../etc/passwd", 0, 0)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(source.ErrOutsideRoot))
		// Cleaned paths land inside the root, where the file does not exist.
		Expect(err).To(MatchError(source.ErrNotFound))
	})

	It("refuses symlinks that point outside the root", func() {
		outside := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o644)).To(Succeed())
		Expect(os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "link"))).To(Succeed())

		_, err := reader.Read("link", 0, 0)
		Expect(err).To(MatchError(source.ErrOutsideRoot))
	})

	It("refuses hidden paths", func() {
		_, err := reader.Read(".env", 0, 0)
		Expect(err).To(MatchError(source.ErrHidden))
	})

	It("reports missing files", func() {
		_, err := reader.Read("nope.go", 0, 0)
		Expect(err).To(MatchError(source.ErrNotFound))
	})
})
