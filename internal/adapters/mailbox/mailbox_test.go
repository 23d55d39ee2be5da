package mailbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParsePlainMessage(t *testing.T) {
	raw := crlf(`From: "Acme Billing" <billing@example.com>
To: assistant@example.com
Subject: Work Authorization - ID ABC12345
Date: Mon, 15 Jul 2024 09:00:00 -0500
Content-Type: text/plain; charset=utf-8

Authorization ID No.: ABC12345
Service Date: 07/15/2024 at 2:30 PM
`)

	env, err := ParseMessage("42", raw)
	require.NoError(t, err)
	assert.Equal(t, "42", env.UID)
	assert.Equal(t, "Work Authorization - ID ABC12345", env.Subject)
	assert.Equal(t, `"Acme Billing" <billing@example.com>`, env.From)
	assert.Equal(t, "assistant@example.com", env.To)
	assert.Equal(t, time.Date(2024, 7, 15, 14, 0, 0, 0, time.UTC), env.Date.UTC())
	assert.Contains(t, env.BodyText, "Authorization ID No.: ABC12345")
	assert.Empty(t, env.BodyHTML)
	assert.Empty(t, env.AttachmentNames)
}

func TestParseMultipartMessage(t *testing.T) {
	raw := crlf(`From: billing@example.com
Subject: =?ISO-8859-1?Q?Autorizaci=F3n_de_servicio?=
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

Patient Name: Jos=E9 Garc=EDa
--inner
Content-Type: text/html; charset=utf-8

<p>Patient Name: Jos&eacute;</p>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="authorization.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--outer--
`)

	env, err := ParseMessage("7", raw)
	require.NoError(t, err)
	assert.Equal(t, "Autorización de servicio", env.Subject)
	assert.Contains(t, env.BodyText, "Patient Name: José García")
	assert.Contains(t, env.BodyHTML, "<p>Patient Name: Jos&eacute;</p>")
	assert.Equal(t, []string{"authorization.pdf"}, env.AttachmentNames)
}

func TestParseMalformedMessageKeepsRawBody(t *testing.T) {
	raw := []byte("this is not a mail message")

	env, err := ParseMessage("9", raw)
	require.Error(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "9", env.UID)
	assert.Equal(t, "this is not a mail message", env.BodyText)
}

func TestParseTruncatedAttachmentKeepsEarlierParts(t *testing.T) {
	raw := crlf(`From: billing@example.com
Subject: Work Authorization
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

Authorization ID No.: ABC123
--b1
Content-Type: application/pdf
Content-Disposition: attachment; filename="a.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
`)

	env, err := ParseMessage("1", raw)
	require.Error(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "Work Authorization", env.Subject)
	assert.Contains(t, env.BodyText, "Authorization ID No.: ABC123")
	assert.Equal(t, []string{"a.pdf"}, env.AttachmentNames)
}

func TestDecodeCharset(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		input   []byte
		want    string
		wantErr bool
	}{
		{name: "utf8 passthrough", charset: "UTF-8", input: []byte("café"), want: "café"},
		{name: "latin1", charset: "iso-8859-1", input: []byte{'c', 'a', 'f', 0xE9}, want: "café"},
		{name: "windows alias", charset: "cp1252", input: []byte{0x93, 'q', 0x94}, want: "“q”"},
		{name: "unknown", charset: "x-not-a-charset", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := decodeCharset(tt.charset, strings.NewReader(string(tt.input)))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			out, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func newTestMailbox(t *testing.T) *IMAPMailbox {
	t.Helper()
	m := NewIMAPMailbox(config.IMAPConfig{Host: "127.0.0.1", Port: 1}, zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	return m
}

func TestOperationsRequireConnection(t *testing.T) {
	m := newTestMailbox(t)
	ctx := context.Background()

	assert.False(t, m.IsConnected())

	_, err := m.FetchUnseen(ctx, "INBOX")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = m.Archive(ctx, "42", "INBOX", "Processed")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = m.Archive(ctx, "not-a-uid", "INBOX", "Processed")
	assert.ErrorContains(t, err, "invalid message uid")
}

func TestConnectFailureIsReported(t *testing.T) {
	m := newTestMailbox(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.Connect(ctx)
	require.Error(t, err)
	assert.False(t, m.IsConnected())
}

func TestSubmitRunsOnWorkerInOrder(t *testing.T) {
	m := newTestMailbox(t)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, m.submit(context.Background(), func() error {
			order = append(order, i)
			return nil
		}))
	}
	assert.Equal(t, []int{0, 1, 2}, order)

	boom := errors.New("boom")
	assert.ErrorIs(t, m.submit(context.Background(), func() error { return boom }), boom)
}

func TestSubmitHonoursContext(t *testing.T) {
	m := newTestMailbox(t)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.submit(ctx, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitAfterClose(t *testing.T) {
	m := NewIMAPMailbox(config.IMAPConfig{}, zaptest.NewLogger(t))
	m.Close()
	m.Close()

	err := m.submit(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
