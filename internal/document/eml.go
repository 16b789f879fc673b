package document

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// emlText returns the body of an email: the first text/plain part if there
// is one, else the visible text of the first text/html part. Subject and
// sender are kept as a header block since they often carry extractable data.
func emlText(data []byte) (string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	body, err := messageBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	dec := new(mime.WordDecoder)
	for _, key := range []string{"From", "To", "Date", "Subject"} {
		v := msg.Header.Get(key)
		if v == "" {
			continue
		}
		if decoded, err := dec.DecodeHeader(v); err == nil {
			v = decoded
		}
		sb.WriteString(key + ": " + v + "\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(body)
	return strings.TrimSpace(sb.String()), nil
}

func messageBody(contentType, encoding string, r io.Reader) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		plain, htmlBody := multipartBodies(r, params["boundary"])
		if plain != "" {
			return plain, nil
		}
		return htmlBody, nil
	}

	content, err := io.ReadAll(decodeTransfer(r, encoding))
	if err != nil {
		return "", err
	}
	if mediaType == "text/html" {
		return htmlText(content)
	}
	return plainText(content), nil
}

// multipartBodies walks nested parts and returns the first plain and the
// first HTML body found.
func multipartBodies(r io.Reader, boundary string) (plain, htmlBody string) {
	if boundary == "" {
		return "", ""
	}
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		mediaType, params, perr := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if perr != nil {
			mediaType = "application/octet-stream"
		}
		// multipart.Reader already decodes quoted-printable
		content, rerr := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
		part.Close()
		if rerr != nil {
			continue
		}

		switch {
		case mediaType == "text/plain" && plain == "":
			plain = plainText(content)
		case mediaType == "text/html" && htmlBody == "":
			if text, err := htmlText(content); err == nil {
				htmlBody = text
			}
		case strings.HasPrefix(mediaType, "multipart/"):
			p, h := multipartBodies(bytes.NewReader(content), params["boundary"])
			if plain == "" {
				plain = p
			}
			if htmlBody == "" {
				htmlBody = h
			}
		}
	}
	return plain, htmlBody
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

// newlineStripper drops CR and LF so wrapped base64 decodes.
type newlineStripper struct{ r io.Reader }

func (s newlineStripper) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	out := p[:0]
	for _, b := range p[:n] {
		if b != '\r' && b != '\n' {
			out = append(out, b)
		}
	}
	return len(out), err
}
