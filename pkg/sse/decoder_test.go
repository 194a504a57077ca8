package sse_test

import (
	"errors"
	"io"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/lmchat/pkg/sse"
)

const stream = "data: {\"response\":\"Hél\"}\n" +
	": keep-alive\n" +
	"\n" +
	"event: message\n" +
	"data: {\"response\":\"lo 世界\"}\r\n" +
	"data: {\"done\":true}\n"

// feedAll splits s into chunks of size n and returns every decoded payload.
func feedAll(s string, n int) []string {
	var dec sse.Decoder
	var out []string
	b := []byte(s)
	for len(b) > 0 {
		end := min(n, len(b))
		out = append(out, dec.Feed(b[:end])...)
		b = b[end:]
	}
	return append(out, dec.Flush()...)
}

// drain reads every payload from r until an error.
func drain(r *sse.Reader) ([]string, error) {
	var out []string
	for {
		p, err := r.Next()
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

var _ = Describe("Decoder", func() {
	expected := []string{
		`{"response":"Hél"}`,
		`{"response":"lo 世界"}`,
		`{"done":true}`,
	}

	It("extracts data payloads and drops every other line", func() {
		Expect(feedAll(stream, len(stream))).To(Equal(expected))
	})

	It("produces the same frames regardless of chunking", func() {
		for n := 1; n <= len(stream); n++ {
			Expect(feedAll(stream, n)).To(Equal(expected), "chunk size %d", n)
		}
	})

	It("keeps a partial line buffered until its terminator arrives", func() {
		var dec sse.Decoder

		Expect(dec.Feed([]byte("data: {\"respo"))).To(BeEmpty())
		Expect(dec.Buffered()).To(Equal(len("data: {\"respo")))

		Expect(dec.Feed([]byte("nse\":\"x\"}\ndata: "))).To(Equal([]string{`{"response":"x"}`}))
		Expect(dec.Buffered()).To(Equal(len("data: ")))
	})

	It("reassembles a multi-byte rune split across chunks", func() {
		var dec sse.Decoder
		line := []byte("data: 世\n")

		Expect(dec.Feed(line[:7])).To(BeEmpty())
		Expect(dec.Feed(line[7:])).To(Equal([]string{"世"}))
	})

	It("replaces invalid UTF-8 instead of passing it through", func() {
		var dec sse.Decoder

		Expect(dec.Feed([]byte("data: a\xffb\n"))).To(Equal([]string{"a\uFFFDb"}))
	})

	It("emits an unterminated trailing data line on flush", func() {
		var dec sse.Decoder

		Expect(dec.Feed([]byte("data: tail"))).To(BeEmpty())
		Expect(dec.Flush()).To(Equal([]string{"tail"}))
		Expect(dec.Flush()).To(BeEmpty())
	})

	It("decodes a long frame fed one byte at a time", func() {
		var dec sse.Decoder
		text := strings.Repeat("ab", 1<<17)
		line := []byte("data: " + text + "\n")

		var out []string
		for i := range line {
			out = append(out, dec.Feed(line[i:i+1])...)
		}
		Expect(out).To(Equal([]string{text}))
		Expect(dec.Buffered()).To(BeZero())
	})

	It("starts clean after a flush", func() {
		var dec sse.Decoder

		dec.Feed([]byte("data: half"))
		Expect(dec.Flush()).To(Equal([]string{"half"}))
		Expect(dec.Feed([]byte("data: next\n"))).To(Equal([]string{"next"}))
	})

	It("only ends lines at a newline", func() {
		var dec sse.Decoder

		Expect(dec.Feed([]byte("data: a\rdata: b\r"))).To(BeEmpty())
		Expect(dec.Flush()).To(Equal([]string{"a\rdata: b"}))
	})

	It("ignores a trailing line that is not a data line", func() {
		var dec sse.Decoder

		dec.Feed([]byte("id: 7"))
		Expect(dec.Flush()).To(BeEmpty())
	})
})

var _ = Describe("Reader", func() {
	It("yields payloads lazily and ends with io.EOF", func() {
		r := sse.NewReader(iotest.OneByteReader(strings.NewReader(stream)), 0)

		payloads, err := drain(r)
		Expect(err).To(Equal(io.EOF))
		Expect(payloads).To(HaveLen(3))

		_, err = r.Next()
		Expect(err).To(Equal(io.EOF))
	})

	It("delivers frames decoded before a read failure, then the failure", func() {
		boom := errors.New("connection reset")
		body := io.MultiReader(
			strings.NewReader("data: one\ndata: two\n"),
			iotest.ErrReader(boom),
		)

		payloads, err := drain(sse.NewReader(body, 8))
		Expect(err).To(MatchError(boom))
		Expect(payloads).To(Equal([]string{"one", "two"}))
	})

	It("handles data and EOF returned from the same read", func() {
		r := sse.NewReader(iotest.DataErrReader(strings.NewReader("data: last")), 64)

		payloads, err := drain(r)
		Expect(err).To(Equal(io.EOF))
		Expect(payloads).To(Equal([]string{"last"}))
	})
})
