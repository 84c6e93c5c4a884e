package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"cloudproof/internal/record"
)

// Object identifies one log file of a source.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Document is a decoded log file. An element of the Records array that is not a
// JSON object is kept as a nil Raw so the normalizer can skip it on its own.
type Document struct {
	Records []record.Raw `json:"Records"`
}

type envelope struct {
	Records []json.RawMessage `json:"Records"`
}

// Source yields log documents. A List failure aborts the run; a Read failure only
// skips the object.
type Source interface {
	// List returns the objects to process. Sources that support it return only
	// objects modified strictly after since.
	List(ctx context.Context, since time.Time) ([]Object, error)
	// Read fetches and decodes one object.
	Read(ctx context.Context, object Object) (Document, error)
}

var gzipMagic = []byte{0x1f, 0x8b}

// Decode reads a plain or gzip-compressed JSON log document.
// Compression is detected from the content, not from the file name.
func Decode(r io.Reader) (Document, error) {
	buffered := bufio.NewReader(r)
	head, err := buffered.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return Document{}, fmt.Errorf("read document: %w", err)
	}

	var body io.Reader = buffered
	if bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return Document{}, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}

	doc := Document{Records: make([]record.Raw, len(env.Records))}
	for i, element := range env.Records {
		var raw record.Raw
		if err := json.Unmarshal(element, &raw); err != nil {
			continue
		}
		doc.Records[i] = raw
	}

	return doc, nil
}
