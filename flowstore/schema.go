package flowstore

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
)

//go:embed document.schema.json
var documentSchema []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(documentSchema))
})

// ValidateDocumentJSON checks raw JSON against the document schema. The
// returned error lists every violation as "field: description".
func ValidateDocumentJSON(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "ValidateDocumentJSON", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err),
			"flowstore", "ValidateDocumentJSON", "parse document")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		errors.Newf(errors.ErrValidationFailed, "%s", strings.Join(msgs, "; ")),
		"flowstore", "ValidateDocumentJSON", "check schema")
}

// Decode validates data against the schema and the document rules and
// returns the document
func Decode(data []byte) (*model.Document, error) {
	if err := ValidateDocumentJSON(data); err != nil {
		return nil, err
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err),
			"flowstore", "Decode", "unmarshal document")
	}
	if err := doc.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "flowstore", "Decode", "validate document")
	}
	return &doc, nil
}

func encode(op string, doc *model.Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapFatal(err, "flowstore", op, "marshal document")
	}
	return data, nil
}

// decodeStored reads a document this package wrote. Schema checks are
// skipped; a document that no longer parses is reported as corrupted.
func decodeStored(op string, data []byte) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err),
			"flowstore", op, "unmarshal document")
	}
	return &doc, nil
}
