package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/workauth-assistant/internal/core"
	"golang.org/x/text/encoding/htmlindex"
)

// maxPartSize bounds how much of a single body part is read
const maxPartSize = 10 << 20

func init() {
	message.CharsetReader = decodeCharset
}

// decodeCharset converts text in the named charset to UTF-8. It knows the
// charsets go-message registers and falls back to the WHATWG label index,
// which covers aliases such as "latin1" or "x-sjis".
func decodeCharset(name string, input io.Reader) (io.Reader, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "us-ascii" {
		return input, nil
	}
	if r, err := charset.Reader(name, input); err == nil {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unhandled charset %q", name)
	}
	return enc.NewDecoder().Reader(input), nil
}

var wordDecoder = &mime.WordDecoder{CharsetReader: decodeCharset}

// ParseMessage turns a raw RFC 5322 message into an Envelope. Text parts
// are concatenated per content type and attachment names are collected.
// An undecodable part is skipped. A broken part stops the walk, but the
// parts read before it are kept and returned along with the error. If the
// message cannot be read at all the raw bytes become the text body.
func ParseMessage(uid string, raw []byte) (*core.Envelope, error) {
	env := &core.Envelope{UID: uid}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		env.BodyText = string(raw)
		return env, fmt.Errorf("failed to read message %s: %w", uid, err)
	}
	defer mr.Close()

	h := mr.Header
	env.Subject = headerText(h, "Subject")
	env.From = headerText(h, "From")
	env.To = headerText(h, "To")
	if date, err := h.Date(); err == nil {
		env.Date = date
	}

	var (
		text, html strings.Builder
		partErr    error
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			partErr = fmt.Errorf("failed to read part of message %s: %w", uid, err)
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
			if err != nil {
				continue
			}
			switch contentType {
			case "text/plain":
				text.Write(body)
			case "text/html":
				html.Write(body)
			}
		case *mail.AttachmentHeader:
			if name, err := ph.Filename(); err == nil && name != "" {
				env.AttachmentNames = append(env.AttachmentNames, name)
			}
			_, _ = io.Copy(io.Discard, part.Body)
		}
	}

	env.BodyText = text.String()
	env.BodyHTML = html.String()
	return env, partErr
}

// headerText returns a header with encoded words decoded. Words in an
// unknown charset are left as they are.
func headerText(h mail.Header, key string) string {
	raw := h.Get(key)
	if raw == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
