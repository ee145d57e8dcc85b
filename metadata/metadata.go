// Package metadata reads and writes the XML sidecar files: table.xml
// (schema + ordered column list) and index_<name>.xml (ordered key
// columns + bucket widths).
package metadata

import (
	"encoding/xml"
	"os"
	"strconv"

	"github.com/jeromekelleher/wormtable/column"
	"github.com/jeromekelleher/wormtable/internal/werr"
)

const schemaVersion = "1.0"

// variableLiteral is the num_elements attribute value reserved for a
// variable-count column.
const variableLiteral = "var(1)"

type columnXML struct {
	XMLName     xml.Name `xml:"column"`
	Name        string   `xml:"name,attr"`
	Description string   `xml:"description,attr"`
	ElementSize int      `xml:"element_size,attr"`
	NumElements string   `xml:"num_elements,attr"`
	ElementType string   `xml:"element_type,attr"`
}

type schemaXML struct {
	XMLName xml.Name    `xml:"schema"`
	Version string      `xml:"version,attr"`
	Columns []columnXML `xml:"columns>column"`
}

// WriteSchema serializes columns, in order, to path as a table.xml
// sidecar.
func WriteSchema(path string, columns []*column.Column) error {
	doc := schemaXML{Version: schemaVersion}
	for _, c := range columns {
		numElements := strconv.Itoa(c.ElementCount)
		if c.IsVariable() {
			numElements = variableLiteral
		}
		doc.Columns = append(doc.Columns, columnXML{
			Name:        c.Name,
			Description: c.Description,
			ElementSize: c.ElementSize,
			NumElements: numElements,
			ElementType: c.ElementType.String(),
		})
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return werr.Wrapf(werr.CorruptMetadata, err, "metadata: marshal schema")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return werr.Wrapf(werr.IOError, err, "metadata: write %s", path)
	}
	return nil
}

// ReadSchema parses a table.xml sidecar at path back into an ordered
// list of Columns.
func ReadSchema(path string) ([]*column.Column, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "metadata: read %s", path)
	}
	var doc schemaXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, werr.Wrapf(werr.CorruptMetadata, err, "metadata: parse %s", path)
	}
	if doc.Version != schemaVersion {
		return nil, werr.Newf(werr.CorruptMetadata, "metadata: %s: unsupported schema version %q", path, doc.Version)
	}
	columns := make([]*column.Column, 0, len(doc.Columns))
	for _, cx := range doc.Columns {
		et, ok := column.ParseElementType(cx.ElementType)
		if !ok {
			return nil, werr.Newf(werr.CorruptMetadata, "metadata: %s: unknown element_type %q for column %q", path, cx.ElementType, cx.Name)
		}
		count := column.Variable
		if cx.NumElements != variableLiteral {
			n, err := strconv.Atoi(cx.NumElements)
			if err != nil {
				return nil, werr.Wrapf(werr.CorruptMetadata, err, "metadata: %s: invalid num_elements for column %q", path, cx.Name)
			}
			count = n
		}
		c, err := column.New(cx.Name, cx.Description, et, cx.ElementSize, count)
		if err != nil {
			return nil, werr.Wrapf(werr.CorruptMetadata, err, "metadata: %s: invalid column %q", path, cx.Name)
		}
		columns = append(columns, c)
	}
	return columns, nil
}

// KeyColumnSpec names one key column of an index and its bucket
// width, as recorded in an index_<name>.xml sidecar.
type KeyColumnSpec struct {
	Name        string
	BucketWidth float64
}

type keyColumnXML struct {
	XMLName  xml.Name `xml:"key_column"`
	Name     string   `xml:"name,attr"`
	BinWidth string   `xml:"bin_width,attr"`
}

type indexXML struct {
	XMLName    xml.Name       `xml:"index"`
	Version    string         `xml:"version,attr"`
	KeyColumns []keyColumnXML `xml:"key_columns>key_column"`
}

// WriteIndexMeta serializes specs, in order, to path as an
// index_<name>.xml sidecar.
func WriteIndexMeta(path string, specs []KeyColumnSpec) error {
	doc := indexXML{Version: schemaVersion}
	for _, s := range specs {
		doc.KeyColumns = append(doc.KeyColumns, keyColumnXML{
			Name:     s.Name,
			BinWidth: strconv.FormatFloat(s.BucketWidth, 'g', -1, 64),
		})
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return werr.Wrapf(werr.CorruptMetadata, err, "metadata: marshal index")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return werr.Wrapf(werr.IOError, err, "metadata: write %s", path)
	}
	return nil
}

// ReadIndexMeta parses an index_<name>.xml sidecar at path back into
// an ordered list of KeyColumnSpecs.
func ReadIndexMeta(path string) ([]KeyColumnSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werr.Wrapf(werr.IOError, err, "metadata: read %s", path)
	}
	var doc indexXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, werr.Wrapf(werr.CorruptMetadata, err, "metadata: parse %s", path)
	}
	if doc.Version != schemaVersion {
		return nil, werr.Newf(werr.CorruptMetadata, "metadata: %s: unsupported index version %q", path, doc.Version)
	}
	specs := make([]KeyColumnSpec, 0, len(doc.KeyColumns))
	for _, kx := range doc.KeyColumns {
		w, err := strconv.ParseFloat(kx.BinWidth, 64)
		if err != nil {
			return nil, werr.Wrapf(werr.CorruptMetadata, err, "metadata: %s: invalid bin_width for key column %q", path, kx.Name)
		}
		specs = append(specs, KeyColumnSpec{Name: kx.Name, BucketWidth: w})
	}
	return specs, nil
}
