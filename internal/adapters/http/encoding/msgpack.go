// Package encoding negotiates between JSON and MessagePack bodies.
package encoding

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeMsgpack = "application/msgpack"
	ContentTypeJSON    = "application/json"
)

// NegotiateContentType picks the response encoding from the Accept header.
// MessagePack is used only when explicitly requested.
func NegotiateContentType(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mediaType == ContentTypeMsgpack || mediaType == "application/x-msgpack" {
			return ContentTypeMsgpack
		}
	}
	return ContentTypeJSON
}

// IsMsgpack reports whether contentType names a MessagePack body.
func IsMsgpack(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == ContentTypeMsgpack || mediaType == "application/x-msgpack"
}

// Write encodes data in the encoding the request asked for.
func Write(w http.ResponseWriter, r *http.Request, status int, data any) error {
	if NegotiateContentType(r) == ContentTypeMsgpack {
		return WriteMsgpack(w, status, data)
	}
	return WriteJSON(w, status, data)
}

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func WriteMsgpack(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", ContentTypeMsgpack)
	w.WriteHeader(status)
	return msgpack.NewEncoder(w).Encode(data)
}

// Decode reads a JSON or MessagePack body depending on its Content-Type.
func Decode(r *http.Request, target any) error {
	if IsMsgpack(r.Header.Get("Content-Type")) {
		return ReadMsgpack(r.Body, target)
	}
	return json.NewDecoder(r.Body).Decode(target)
}

func ReadMsgpack(body io.Reader, target any) error {
	return msgpack.NewDecoder(body).Decode(target)
}

func UnmarshalMsgpack(data []byte, target any) error {
	return msgpack.Unmarshal(data, target)
}
