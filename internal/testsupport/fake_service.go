package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"docflow/internal/state"
)

// TransientCode is the default transient error code served by FakeService.
const TransientCode = "[IxpExtractorUnavailableError]"

// FakeError is a scripted remote failure.
type FakeError struct {
	Code    string
	Message string
}

// FakeUnit is one logical document reported by classification.
type FakeUnit struct {
	DocumentType string
	Confidence   float64
	StartPage    int
	PageCount    int
}

// PageRange returns the 1-based inclusive page range of the unit.
func (u FakeUnit) PageRange() string {
	count := u.PageCount
	if count <= 0 {
		count = 1
	}
	return fmt.Sprintf("%d-%d", u.StartPage+1, u.StartPage+count)
}

// FakeDocument scripts how the service treats one uploaded file.
type FakeDocument struct {
	// Units defaults to a single "invoices" unit covering page one.
	Units []FakeUnit
	// Fail makes every result poll of the action fail with the error.
	Fail map[state.Action]FakeError
	// Transient serves that many transient failures for the action before
	// the operation is allowed to succeed.
	Transient map[state.Action]int
	// PendingPolls serves Running for the first polls of every operation.
	PendingPolls int
	// Corrections replaces field values in validated extraction results,
	// keyed by field name. Corrected values carry DataSource ManuallyChanged.
	Corrections map[string]string
	// Reclassify replaces the document type in validated classification
	// results.
	Reclassify string
}

type fakeOperation struct {
	action     state.Action
	filename   string
	documentID string
	module     string
	pageRange  string
	body       map[string]json.RawMessage
	polls      int
}

// FakeService is an httptest server that scripts the remote document
// understanding service, including the token endpoint and discovery.
type FakeService struct {
	t      testing.TB
	server *httptest.Server

	mu         sync.Mutex
	documents  map[string]*FakeDocument
	byID       map[string]string
	operations map[string]*fakeOperation
	starts     map[state.Action]int
	polls      map[state.Action]int
	tokens     int
	nextOp     int
	bodies     map[state.Action][]map[string]json.RawMessage

	Projects    []map[string]any
	Classifiers []map[string]any
	Extractors  []map[string]any
}

// NewFakeService starts a fake service and registers its shutdown.
func NewFakeService(t testing.TB) *FakeService {
	t.Helper()
	f := &FakeService{
		t:          t,
		documents:  make(map[string]*FakeDocument),
		byID:       make(map[string]string),
		operations: make(map[string]*fakeOperation),
		starts:     make(map[state.Action]int),
		polls:      make(map[state.Action]int),
		bodies:     make(map[state.Action][]map[string]json.RawMessage),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/connect/token", f.handleToken)
	mux.HandleFunc("/projects/", f.handleProjects)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server root.
func (f *FakeService) URL() string {
	return f.server.URL
}

// Script sets the behaviour for an uploaded file name.
func (f *FakeService) Script(filename string, doc FakeDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := doc
	f.documents[filepath.Base(filename)] = &copyDoc
}

// Starts returns how many start calls the action received.
func (f *FakeService) Starts(action state.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[action]
}

// Polls returns how many result polls the action received.
func (f *FakeService) Polls(action state.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[action]
}

// TokenRequests returns how many token grants were served.
func (f *FakeService) TokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

// StartBodies returns the decoded JSON bodies posted to the action's start
// endpoint, in arrival order.
func (f *FakeService) StartBodies(action state.Action) []map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]json.RawMessage, len(f.bodies[action]))
	copy(out, f.bodies[action])
	return out
}

// DocumentID returns the id the service assigns to filename.
func DocumentID(filename string) string {
	return "doc-" + strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

func (f *FakeService) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	f.mu.Lock()
	f.tokens++
	token := fmt.Sprintf("token-%d", f.tokens)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "expires_in": 3600, "token_type": "Bearer"})
}

func (f *FakeService) handleProjects(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/projects/"), "/")
	var parts []string
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"projects": f.Projects})
	case len(parts) == 2 && parts[1] == "classifiers" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"classifiers": f.Classifiers})
	case len(parts) == 2 && parts[1] == "extractors" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"extractors": f.Extractors})
	case len(parts) == 3 && parts[1] == "digitization" && parts[2] == "start":
		f.handleDigitizeStart(w, r)
	case len(parts) == 4 && parts[1] == "digitization" && parts[2] == "result":
		f.handleResult(w, parts[3])
	case len(parts) == 5 && parts[4] == "start":
		action, ok := startAction(parts[1], parts[3])
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.handleStart(w, r, action, parts[2])
	case len(parts) == 6 && parts[4] == "result":
		f.handleResult(w, parts[5])
	default:
		http.NotFound(w, r)
	}
}

func startAction(collection, kind string) (state.Action, bool) {
	switch {
	case collection == "classifiers" && kind == "classification":
		return state.ActionClassification, true
	case collection == "classifiers" && kind == "validation":
		return state.ActionClassificationValidation, true
	case collection == "extractors" && kind == "extraction":
		return state.ActionExtraction, true
	case collection == "extractors" && kind == "validation":
		return state.ActionExtractionValidation, true
	}
	return "", false
}

func (f *FakeService) handleDigitizeStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "BadRequest", "message": err.Error()}})
		return
	}
	file, header, err := r.FormFile("File")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "MissingFile", "message": err.Error()}})
		return
	}
	file.Close()

	name := filepath.Base(header.Filename)
	id := DocumentID(name)
	f.mu.Lock()
	f.starts[state.ActionDigitization]++
	f.byID[id] = name
	f.operations[id] = &fakeOperation{action: state.ActionDigitization, filename: name, documentID: id}
	f.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{"documentId": id})
}

func (f *FakeService) handleStart(w http.ResponseWriter, r *http.Request, action state.Action, module string) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "BadRequest", "message": err.Error()}})
		return
	}
	var documentID, pageRange string
	_ = json.Unmarshal(body["documentId"], &documentID)
	_ = json.Unmarshal(body["pageRange"], &pageRange)

	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.byID[documentID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "[DocumentNotFound]", "message": "unknown document " + documentID}})
		return
	}
	f.starts[action]++
	f.bodies[action] = append(f.bodies[action], body)
	f.nextOp++
	id := fmt.Sprintf("op-%d", f.nextOp)
	f.operations[id] = &fakeOperation{
		action:     action,
		filename:   name,
		documentID: documentID,
		module:     module,
		pageRange:  pageRange,
		body:       body,
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"operationId": id})
}

func (f *FakeService) handleResult(w http.ResponseWriter, operationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.operations[operationID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "[OperationNotFound]", "message": operationID}})
		return
	}
	f.polls[op.action]++
	op.polls++
	doc := f.documentLocked(op.filename)

	if op.polls <= doc.PendingPolls {
		writeJSON(w, http.StatusOK, map[string]string{"status": "Running"})
		return
	}
	if doc.Transient[op.action] > 0 {
		doc.Transient[op.action]--
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Failed",
			"error":  map[string]string{"code": TransientCode, "message": "extractor unavailable"},
		})
		return
	}
	if failure, ok := doc.Fail[op.action]; ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Failed",
			"error":  map[string]string{"code": failure.Code, "message": failure.Message},
		})
		return
	}

	var result any
	switch op.action {
	case state.ActionDigitization:
		result = map[string]any{"documentObjectModel": map[string]any{"documentId": op.documentID}}
	case state.ActionClassification:
		result = map[string]any{"classificationResults": f.classificationResults(op, doc, "")}
	case state.ActionExtraction:
		result = map[string]any{"extractionResult": f.extractionResult(op, doc, nil)}
	case state.ActionClassificationValidation, state.ActionExtractionValidation:
		if op.polls <= doc.PendingPolls+1 {
			result = map[string]any{"actionData": map[string]any{"status": "Unassigned"}}
			break
		}
		payload := map[string]any{"actionData": map[string]any{
			"status":           "Completed",
			"lastAssignedTime": "2026-02-01T10:00:00Z",
			"completionTime":   "2026-02-01T10:05:00Z",
		}}
		if op.action == state.ActionClassificationValidation {
			payload["validatedClassificationResults"] = f.classificationResults(op, doc, doc.Reclassify)
		} else {
			payload["validatedExtractionResults"] = f.extractionResult(op, doc, doc.Corrections)
		}
		result = payload
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "Succeeded", "result": result})
}

func (f *FakeService) documentLocked(name string) *FakeDocument {
	doc, ok := f.documents[name]
	if !ok {
		doc = &FakeDocument{}
		f.documents[name] = doc
	}
	if len(doc.Units) == 0 {
		doc.Units = []FakeUnit{{DocumentType: "invoices", Confidence: 0.97, StartPage: 0, PageCount: 1}}
	}
	if doc.Transient == nil {
		doc.Transient = make(map[state.Action]int)
	}
	return doc
}

func (f *FakeService) classificationResults(op *fakeOperation, doc *FakeDocument, reclassify string) []map[string]any {
	results := make([]map[string]any, 0, len(doc.Units))
	for _, unit := range doc.Units {
		docType := unit.DocumentType
		if reclassify != "" {
			docType = reclassify
		}
		results = append(results, map[string]any{
			"DocumentTypeId": docType,
			"DocumentId":     op.documentID,
			"Confidence":     unit.Confidence,
			"DocumentBounds": map[string]any{
				"StartPage": unit.StartPage,
				"PageCount": unit.PageCount,
				"PageRange": unit.PageRange(),
			},
			"ClassifierName": op.module,
		})
	}
	return results
}

func (f *FakeService) extractionResult(op *fakeOperation, doc *FakeDocument, corrections map[string]string) map[string]any {
	unit := doc.Units[0]
	for _, candidate := range doc.Units {
		if candidate.PageRange() == op.pageRange {
			unit = candidate
			break
		}
	}
	review := func(field string) (string, bool) {
		if _, ok := corrections[field]; ok {
			return "ManuallyChanged", true
		}
		return "Automatic", corrections != nil
	}
	value := func(field, v string, confidence float64) map[string]any {
		if corrected, ok := corrections[field]; ok {
			v = corrected
		}
		return map[string]any{
			"Value":            v,
			"UnformattedValue": v,
			"Confidence":       confidence,
			"OcrConfidence":    confidence,
		}
	}
	scalar := func(field, v string, confidence float64) map[string]any {
		source, confirmed := review(field)
		return map[string]any{
			"FieldId":           unit.DocumentType + "." + field,
			"FieldName":         field,
			"IsMissing":         false,
			"DataSource":        source,
			"OperatorConfirmed": confirmed,
			"Values":            []map[string]any{value(field, v, confidence)},
		}
	}
	cell := func(row, col int, header bool, field, v string) map[string]any {
		cellValue := value(field, v, 0.9)
		source, confirmed := review(field)
		if header {
			cellValue["Value"] = v
			source = "Automatic"
		}
		return map[string]any{
			"RowIndex":          row,
			"ColumnIndex":       col,
			"IsHeader":          header,
			"IsMissing":         false,
			"DataSource":        source,
			"OperatorConfirmed": confirmed,
			"Values":            []map[string]any{cellValue},
		}
	}
	return map[string]any{
		"DocumentId": op.documentID,
		"ResultsDocument": map[string]any{
			"DocumentTypeId": unit.DocumentType,
			"Fields": []map[string]any{
				scalar("Total", "100.00", 0.95),
				scalar("Vendor", "ACME", 0.88),
				{"FieldId": unit.DocumentType + ".DueDate", "FieldName": "DueDate", "IsMissing": true,
					"Values": []map[string]any{}},
			},
			"Tables": []map[string]any{
				{"FieldId": unit.DocumentType + ".Items", "FieldName": "Items", "Values": []map[string]any{{
					"Cells": []map[string]any{
						cell(0, 0, true, "Description", "Description"),
						cell(0, 1, true, "Amount", "Amount"),
						cell(1, 0, false, "Description", "Widget"),
						cell(1, 1, false, "Amount", "40.00"),
						cell(2, 0, false, "Description", "Gadget"),
						cell(2, 1, false, "Amount", "60.00"),
					},
				}}},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
