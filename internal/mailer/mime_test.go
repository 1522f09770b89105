package mailer

import (
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessagePlain(t *testing.T) {
	raw, err := BuildMessage(Draft{
		To:      "jane@acme.com",
		ToName:  "Jane Doe",
		Subject: "Hello from Zürich",
		Body:    "Hi Jane,\nShort note.",
	})
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)

	assert.Equal(t, `"Jane Doe" <jane@acme.com>`, msg.Header.Get("To"))
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Hello from Zürich", subject)

	mediaType, _, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mediaType)
}

func TestBuildMessageWithAttachment(t *testing.T) {
	raw, err := BuildMessage(Draft{
		To:      "jane@acme.com",
		Subject: "Resume",
		Body:    "See attached.",
		Attachments: []Attachment{
			{Filename: "resume.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 fake")},
		},
	})
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])

	text, err := mr.NextPart()
	require.NoError(t, err)
	assert.Contains(t, text.Header.Get("Content-Type"), "text/plain")

	attachment, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "resume.pdf", attachment.FileName())
	assert.Equal(t, "base64", attachment.Header.Get("Content-Transfer-Encoding"))

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}
