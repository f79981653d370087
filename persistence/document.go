package persistence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aryansinha9/irl-among-us/models"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func encodeLobby(l *models.Lobby) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: nil lobby", ErrInvalidDocument)
	}
	return json.Marshal(l)
}

func decodeLobby(doc []byte) (*models.Lobby, error) {
	var l models.Lobby
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &l, nil
}

// applyUpdates writes every path of u into doc and returns the new document.
// doc itself is never modified, so a failure leaves the stored copy intact.
func applyUpdates(doc []byte, u models.Updates) ([]byte, error) {
	out := append([]byte(nil), doc...)
	for _, path := range u.Paths() {
		segments := strings.Split(path, ".")
		for _, s := range segments {
			if s == "" {
				return nil, fmt.Errorf("%w: empty segment in path %q", ErrInvalidDocument, path)
			}
		}
		if len(segments) > 1 {
			parent := gjson.GetBytes(out, escapePath(segments[:len(segments)-1]))
			if !parent.IsObject() {
				return nil, fmt.Errorf("%w: parent of %q", ErrRecordNotFound, path)
			}
		}

		var err error
		escaped := escapePath(segments)
		if u[path] == models.Delete {
			out, err = sjson.DeleteBytes(out, escaped)
		} else {
			var raw []byte
			raw, err = json.Marshal(u[path])
			if err == nil {
				out, err = sjson.SetRawBytes(out, escaped, raw)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, path, err)
		}
	}

	// 写回前校验文档仍能解析成 Lobby
	if _, err := decodeLobby(out); err != nil {
		return nil, err
	}
	return out, nil
}

func escapePath(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		var b strings.Builder
		for _, r := range s {
			switch r {
			case '\\', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		escaped[i] = b.String()
	}
	return strings.Join(escaped, ".")
}
