package message

import (
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Attachment is a decoded non-body part.
type Attachment struct {
	Filename    string
	ContentType string
	// Disposition is lower-cased and empty when the part has none.
	Disposition string
	Data        []byte
}

// Attachments walks the non-multipart parts of raw and returns every part
// that has an attachment disposition or a filename.
func Attachments(raw []byte) ([]Attachment, error) {
	entity, err := read(raw)
	if err != nil {
		return nil, err
	}

	var out []Attachment
	walkErr := entity.Walk(func(_ []int, part *gomessage.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return nil
		}
		if part == nil {
			return nil
		}
		mediaType := contentType(part)
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		ah := mail.AttachmentHeader{Header: part.Header}
		filename, _ := ah.Filename()
		disp, _, _ := part.Header.ContentDisposition()
		if !strings.EqualFold(disp, "attachment") && filename == "" {
			return nil
		}

		data, rerr := io.ReadAll(part.Body)
		if rerr != nil {
			return nil
		}
		out = append(out, Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Disposition: strings.ToLower(disp),
			Data:        data,
		})
		return nil
	})
	if walkErr != nil && len(out) == 0 {
		return nil, walkErr
	}
	return out, nil
}
