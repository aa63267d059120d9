package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"docflow/internal/services"
	"docflow/internal/state"
)

// Value is one extracted value with its confidences.
type Value struct {
	Value             string
	UnformattedValue  string
	Confidence        float64
	OCRConfidence     float64
	OperatorConfirmed bool
	DataSource        string
}

// Cell is one table cell. Header is the column name taken from row 0.
type Cell struct {
	Row       int
	Column    int
	Header    string
	IsMissing bool
	Value     Value
}

// Table holds the column headers and the data rows of a table field.
type Table struct {
	Headers []string
	Rows    [][]Cell
}

// Field is a scalar field or a table field, never both.
type Field struct {
	ID        string
	Name      string
	IsMissing bool
	Value     *Value
	Table     *Table
}

// IsTable reports whether the field is table-valued.
func (f Field) IsTable() bool { return f.Table != nil }

// Document is a decoded extraction result.
type Document struct {
	DocumentID     string
	DocumentTypeID string
	Fields         []Field
}

type wireValue struct {
	Value             string  `json:"Value"`
	UnformattedValue  string  `json:"UnformattedValue"`
	Confidence        float64 `json:"Confidence"`
	OcrConfidence     float64 `json:"OcrConfidence"`
	OperatorConfirmed bool    `json:"OperatorConfirmed"`
	DataSource        string  `json:"DataSource"`
}

// Review flags live on the field and on the cell. Value-level copies are
// only read when the outer ones are absent.
type wireField struct {
	FieldID           string      `json:"FieldId"`
	FieldName         string      `json:"FieldName"`
	IsMissing         bool        `json:"IsMissing"`
	DataSource        string      `json:"DataSource"`
	OperatorConfirmed *bool       `json:"OperatorConfirmed"`
	Values            []wireValue `json:"Values"`
}

type wireCell struct {
	RowIndex          int         `json:"RowIndex"`
	ColumnIndex       int         `json:"ColumnIndex"`
	IsHeader          bool        `json:"IsHeader"`
	IsMissing         bool        `json:"IsMissing"`
	DataSource        string      `json:"DataSource"`
	OperatorConfirmed *bool       `json:"OperatorConfirmed"`
	Values            []wireValue `json:"Values"`
}

type wireTable struct {
	FieldID   string `json:"FieldId"`
	FieldName string `json:"FieldName"`
	IsMissing bool   `json:"IsMissing"`
	Values    []struct {
		Cells []wireCell `json:"Cells"`
	} `json:"Values"`
}

type wireResultsDocument struct {
	DocumentTypeID string      `json:"DocumentTypeId"`
	Fields         []wireField `json:"Fields"`
	Tables         []wireTable `json:"Tables"`
}

type wireExtraction struct {
	DocumentID      string               `json:"DocumentId"`
	ResultsDocument *wireResultsDocument `json:"ResultsDocument"`
}

// Decode parses an extraction result payload ({"extractionResult": ...}).
func Decode(payload json.RawMessage) (*Document, error) {
	return decodeKeyed(payload, "extractionResult")
}

// DecodeValidated parses the validatedExtractionResults of a completed
// validation payload.
func DecodeValidated(payload json.RawMessage) (*Document, error) {
	return decodeKeyed(payload, "validatedExtractionResults")
}

func decodeKeyed(payload json.RawMessage, key string) (*Document, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, services.Wrap(services.ErrMalformedResponse, "extraction", "decode", "invalid result", err)
	}
	raw, ok := envelope[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, services.Wrap(services.ErrMalformedResponse, "extraction", "decode", "missing "+key, nil)
	}
	var wire wireExtraction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, services.Wrap(services.ErrMalformedResponse, "extraction", "decode", key+" has unexpected shape", err)
	}
	if wire.ResultsDocument == nil {
		return nil, services.Wrap(services.ErrMalformedResponse, "extraction", "decode", "missing ResultsDocument", nil)
	}
	return fromWire(wire)
}

func fromWire(wire wireExtraction) (*Document, error) {
	doc := &Document{
		DocumentID:     wire.DocumentID,
		DocumentTypeID: wire.ResultsDocument.DocumentTypeID,
	}
	seen := make(map[string]struct{})
	for _, wf := range wire.ResultsDocument.Fields {
		field := Field{ID: wf.FieldID, Name: fieldName(wf.FieldName, wf.FieldID), IsMissing: wf.IsMissing}
		if len(wf.Values) > 0 {
			v := withReview(toValue(wf.Values[0]), wf.DataSource, wf.OperatorConfirmed)
			field.Value = &v
		} else {
			field.IsMissing = true
		}
		seen[wf.FieldID] = struct{}{}
		doc.Fields = append(doc.Fields, field)
	}
	for _, wt := range wire.ResultsDocument.Tables {
		if _, dup := seen[wt.FieldID]; dup {
			return nil, services.Wrap(services.ErrMalformedResponse, "extraction", "decode",
				fmt.Sprintf("field %s is both scalar and table", wt.FieldID), nil)
		}
		table := decodeTable(wt)
		doc.Fields = append(doc.Fields, Field{
			ID:        wt.FieldID,
			Name:      fieldName(wt.FieldName, wt.FieldID),
			IsMissing: wt.IsMissing || len(table.Rows) == 0,
			Table:     table,
		})
	}
	return doc, nil
}

// decodeTable maps each data cell to its column header. Multiple table
// instances are concatenated, renumbering rows so they stay unique.
func decodeTable(wt wireTable) *Table {
	table := &Table{}
	offset := 0
	for _, instance := range wt.Values {
		headers := map[int]string{}
		rows := map[int][]Cell{}
		maxRow := 0
		for _, wc := range instance.Cells {
			if wc.IsHeader || wc.RowIndex == 0 {
				headers[wc.ColumnIndex] = strings.TrimSpace(firstValue(wc.Values).Value)
				continue
			}
			v := withReview(firstValue(wc.Values), wc.DataSource, wc.OperatorConfirmed)
			rows[wc.RowIndex] = append(rows[wc.RowIndex], Cell{
				Row:       wc.RowIndex + offset,
				Column:    wc.ColumnIndex,
				IsMissing: wc.IsMissing || len(wc.Values) == 0,
				Value:     v,
			})
			if wc.RowIndex > maxRow {
				maxRow = wc.RowIndex
			}
		}
		if len(table.Headers) == 0 {
			cols := make([]int, 0, len(headers))
			for col := range headers {
				cols = append(cols, col)
			}
			sort.Ints(cols)
			for _, col := range cols {
				table.Headers = append(table.Headers, headers[col])
			}
		}
		rowIndexes := make([]int, 0, len(rows))
		for idx := range rows {
			rowIndexes = append(rowIndexes, idx)
		}
		sort.Ints(rowIndexes)
		for _, idx := range rowIndexes {
			cells := rows[idx]
			sort.Slice(cells, func(i, j int) bool { return cells[i].Column < cells[j].Column })
			for i := range cells {
				cells[i].Header = headerFor(headers, cells[i].Column)
			}
			table.Rows = append(table.Rows, cells)
		}
		offset += maxRow
	}
	return table
}

func headerFor(headers map[int]string, col int) string {
	if name := headers[col]; name != "" {
		return name
	}
	return fmt.Sprintf("Column %d", col+1)
}

func firstValue(values []wireValue) Value {
	if len(values) == 0 {
		return Value{}
	}
	return toValue(values[0])
}

func toValue(w wireValue) Value {
	return Value{
		Value:             w.Value,
		UnformattedValue:  w.UnformattedValue,
		Confidence:        w.Confidence,
		OCRConfidence:     w.OcrConfidence,
		OperatorConfirmed: w.OperatorConfirmed,
		DataSource:        w.DataSource,
	}
}

func withReview(v Value, dataSource string, confirmed *bool) Value {
	if dataSource = strings.TrimSpace(dataSource); dataSource != "" {
		v.DataSource = dataSource
	}
	if confirmed != nil {
		v.OperatorConfirmed = *confirmed
	}
	return v
}

func fieldName(name, id string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return id
}

// Rows flattens the document into extraction rows for unit of filename.
// Scalar fields use row and column -1.
func (d *Document) Rows(filename string, unit int) []state.ExtractionRow {
	var rows []state.ExtractionRow
	base := state.ExtractionRow{
		Filename:       filename,
		Unit:           unit,
		DocumentID:     d.DocumentID,
		DocumentTypeID: d.DocumentTypeID,
	}
	for _, f := range d.Fields {
		if !f.IsTable() {
			row := base
			row.FieldID = f.ID
			row.Field = f.Name
			row.IsMissing = f.IsMissing
			row.RowIndex = -1
			row.ColumnIndex = -1
			if f.Value != nil {
				row.Value = f.Value.Value
				row.UnformattedValue = f.Value.UnformattedValue
				row.Confidence = f.Value.Confidence
				row.OCRConfidence = f.Value.OCRConfidence
				row.OperatorConfirmed = f.Value.OperatorConfirmed
			}
			rows = append(rows, row)
			continue
		}
		for _, cells := range f.Table.Rows {
			for _, c := range cells {
				row := base
				row.FieldID = f.ID
				row.Field = c.Header
				row.IsMissing = c.IsMissing
				row.Value = c.Value.Value
				row.UnformattedValue = c.Value.UnformattedValue
				row.Confidence = c.Value.Confidence
				row.OCRConfidence = c.Value.OCRConfidence
				row.OperatorConfirmed = c.Value.OperatorConfirmed
				row.RowIndex = c.Row
				row.ColumnIndex = c.Column
				rows = append(rows, row)
			}
		}
	}
	return rows
}

// ValidatedRows returns the reviewed values keyed the same way as Rows.
func (d *Document) ValidatedRows() []state.ValidatedRow {
	var rows []state.ValidatedRow
	for _, f := range d.Fields {
		if !f.IsTable() {
			row := state.ValidatedRow{FieldID: f.ID, Field: f.Name, RowIndex: -1, ColumnIndex: -1}
			if f.Value != nil {
				row.Value = f.Value.Value
				row.OperatorConfirmed = f.Value.OperatorConfirmed
				row.DataSource = f.Value.DataSource
			}
			rows = append(rows, row)
			continue
		}
		for _, cells := range f.Table.Rows {
			for _, c := range cells {
				rows = append(rows, state.ValidatedRow{
					FieldID:           f.ID,
					Field:             c.Header,
					RowIndex:          c.Row,
					ColumnIndex:       c.Column,
					Value:             c.Value.Value,
					OperatorConfirmed: c.Value.OperatorConfirmed,
					DataSource:        c.Value.DataSource,
				})
			}
		}
	}
	return rows
}
