// Package mail はマジックリンクメールの組み立てと送信を提供する。
package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"
)

// base64LineLength はRFC 2045で定められたbase64の1行あたりの最大文字数。
const base64LineLength = 76

// InlineImage はHTML本文から cid: で参照されるインライン画像。
type InlineImage struct {
	ContentID   string
	Filename    string
	ContentType string
	Data        []byte
}

// Message は送信するメール。
// 本文はtext/plainとtext/htmlの代替表現を持ち、インライン画像を添付できる。
type Message struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	Inline  []InlineImage
	Date    time.Time
}

// Encode はメッセージをRFC 5322形式のバイト列に変換する。
// 構造は multipart/related { multipart/alternative { text, html }, 画像... }。
func (m *Message) Encode() ([]byte, error) {
	var buf bytes.Buffer
	related := multipart.NewWriter(&buf)

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	writeHeader(&buf, "From", m.From)
	writeHeader(&buf, "To", strings.Join(m.To, ", "))
	if m.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", m.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", fmt.Sprintf(`multipart/related; type="multipart/alternative"; boundary="%s"`, related.Boundary()))
	buf.WriteString("\r\n")

	var altBody bytes.Buffer
	alternative := multipart.NewWriter(&altBody)
	if err := writeQuotedPrintable(alternative, "text/plain; charset=utf-8", m.Text); err != nil {
		return nil, err
	}
	if err := writeQuotedPrintable(alternative, "text/html; charset=utf-8", m.HTML); err != nil {
		return nil, err
	}
	if err := alternative.Close(); err != nil {
		return nil, fmt.Errorf("failed to close alternative part: %w", err)
	}

	altHeader := textproto.MIMEHeader{}
	altHeader.Set("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, alternative.Boundary()))
	altPart, err := related.CreatePart(altHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create alternative part: %w", err)
	}
	if _, err := altPart.Write(altBody.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write alternative part: %w", err)
	}

	for _, img := range m.Inline {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", fmt.Sprintf(`%s; name="%s"`, img.ContentType, img.Filename))
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-ID", "<"+img.ContentID+">")
		h.Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, img.Filename))
		part, err := related.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create inline part: %w", err)
		}
		if _, err := part.Write(wrapBase64(img.Data)); err != nil {
			return nil, fmt.Errorf("failed to write inline image: %w", err)
		}
	}

	if err := related.Close(); err != nil {
		return nil, fmt.Errorf("failed to close related part: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeQuotedPrintable(w *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write %s body: %w", contentType, err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s body: %w", contentType, err)
	}
	return nil
}

// wrapBase64 はデータをbase64化し、76文字ごとに改行する。
func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out bytes.Buffer
	for len(encoded) > base64LineLength {
		out.WriteString(encoded[:base64LineLength])
		out.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	out.WriteString(encoded)
	out.WriteString("\r\n")
	return out.Bytes()
}
