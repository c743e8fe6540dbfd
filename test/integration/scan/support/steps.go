package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/server"
	"github.com/MeKo-Tech/shelfscan/internal/testutil"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// RegisterSteps binds every step of the suite to tc.
func (tc *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the shelf photograph shows these spines:$`, tc.theShelfShowsSpines)
	sc.Step(`^the catalogue knows "([^"]*)" as "([^"]*)" by "([^"]*)" with ISBN "([^"]*)"$`, tc.theCatalogueKnows)
	sc.Step(`^the catalogue is unreachable$`, tc.theCatalogueIsUnreachable)
	sc.Step(`^the language model answers "([^"]*)" to validation$`, tc.theModelAnswers)
	sc.Step(`^the language model corrects "([^"]*)" to "([^"]*)"$`, tc.theModelCorrects)
	sc.Step(`^the language model is offline$`, tc.theModelIsOffline)
	sc.Step(`^clients may send (\d+) requests? in a burst$`, tc.clientsMaySendBurst)
	sc.Step(`^the shelfscan server is running$`, tc.StartServer)

	sc.Step(`^I upload the shelf photograph for shelf (\d+) row (\d+) starting at column (\d+)$`, tc.iUploadShelf)
	sc.Step(`^I upload the shelf photograph with fields:$`, tc.iUploadShelfWithFields)
	sc.Step(`^I upload "([^"]*)" as the photograph for shelf (\d+)$`, tc.iUploadBytes)
	sc.Step(`^I send a (GET|POST|PUT|DELETE) request to "([^"]*)"$`, tc.iSendRequest)
	sc.Step(`^I scan the shelf photograph over WebSocket for shelf (\d+)$`, tc.iScanOverWebSocket)

	sc.Step(`^the response status should be (\d+)$`, tc.theStatusShouldBe)
	sc.Step(`^the response content type should contain "([^"]*)"$`, tc.theContentTypeShouldContain)
	sc.Step(`^the response should contain "([^"]*)"$`, tc.theResponseShouldContain)
	sc.Step(`^the error should mention "([^"]*)"$`, tc.theErrorShouldMention)
	sc.Step(`^the response should list (\d+) books?$`, tc.theResponseShouldListBooks)
	sc.Step(`^book (\d+) should be at shelf (\d+) row (\d+) column (\d+)$`, tc.bookShouldBeAt)
	sc.Step(`^book (\d+) should be titled "([^"]*)" by "([^"]*)"$`, tc.bookShouldBeTitled)
	sc.Step(`^book (\d+) should have ISBN "([^"]*)"$`, tc.bookShouldHaveISBN)
	sc.Step(`^book (\d+) should have validation "([^"]*)"$`, tc.bookShouldHaveValidation)
	sc.Step(`^book (\d+) should have confidence ([0-9.]+)$`, tc.bookShouldHaveConfidence)
	sc.Step(`^book (\d+) stage "([^"]*)" should be "([^"]*)"$`, tc.bookStageShouldBe)
	sc.Step(`^book (\d+) should be (inserted|updated)$`, tc.bookShouldBeAction)
	sc.Step(`^book (\d+) should not be persisted$`, tc.bookShouldNotBePersisted)
	sc.Step(`^the store should hold (\d+) records?$`, tc.theStoreShouldHold)
	sc.Step(`^the annotated image should be downloadable$`, tc.theAnnotatedImageShouldBeDownloadable)
	sc.Step(`^every book crop should be downloadable$`, tc.everyCropShouldBeDownloadable)
	sc.Step(`^I should receive progress for stage "([^"]*)"$`, tc.iShouldReceiveProgress)
	sc.Step(`^the last message should be a result listing (\d+) books?$`, tc.theLastMessageShouldBeResult)
}

// Givens

func (tc *TestContext) theShelfShowsSpines(table *godog.Table) error {
	tc.Spines = nil
	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		tc.Spines = append(tc.Spines, row.Cells[0].Value)
	}
	return nil
}

func (tc *TestContext) theCatalogueKnows(query, title, author, isbn string) error {
	tc.Books.Candidates[query] = &bibliographic.Candidate{Title: title, Authors: []string{author}, ISBN: isbn}
	return nil
}

func (tc *TestContext) theCatalogueIsUnreachable() error {
	tc.Books.Fail = true
	return nil
}

func (tc *TestContext) theModelAnswers(verdict string) error {
	tc.Completer.Verdict = verdict
	return nil
}

func (tc *TestContext) theModelCorrects(from, to string) error {
	if tc.Completer.Corrections == nil {
		tc.Completer.Corrections = map[string]string{}
	}
	tc.Completer.Corrections[from] = to
	return nil
}

func (tc *TestContext) theModelIsOffline() error {
	tc.Offline = true
	return nil
}

func (tc *TestContext) clientsMaySendBurst(n int) error {
	tc.RateLimit = server.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: n}
	return nil
}

// Whens

func (tc *TestContext) iUploadShelf(shelf, row, column int) error {
	return tc.upload(shelfJPEG(), map[string]string{
		"shelf_id":    strconv.Itoa(shelf),
		"row":         strconv.Itoa(row),
		"base_column": strconv.Itoa(column),
	})
}

func (tc *TestContext) iUploadShelfWithFields(table *godog.Table) error {
	fields := map[string]string{}
	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		fields[row.Cells[0].Value] = row.Cells[1].Value
	}
	return tc.upload(shelfJPEG(), fields)
}

func (tc *TestContext) iUploadBytes(content string, shelf int) error {
	return tc.upload([]byte(content), map[string]string{"shelf_id": strconv.Itoa(shelf)})
}

func (tc *TestContext) upload(file []byte, fields map[string]string) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", "shelf.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, tc.URL()+"/scan", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return tc.do(req)
}

func (tc *TestContext) iSendRequest(method, path string) error {
	req, err := http.NewRequest(method, tc.URL()+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	tc.LastStatus = resp.StatusCode
	tc.LastHeader = resp.Header
	tc.LastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) iScanOverWebSocket(shelf int) error {
	wsURL := "ws" + strings.TrimPrefix(tc.URL(), "http") + "/ws/scan"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	req := server.WebSocketScanRequest{Image: shelfJPEG(), ShelfID: shelf}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	tc.Messages = nil
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg server.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read websocket message: %w", err)
		}
		tc.Messages = append(tc.Messages, msg)
		if msg.Type != "progress" {
			return nil
		}
	}
}

// Thens

func (tc *TestContext) theStatusShouldBe(code int) error {
	if tc.LastStatus != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theContentTypeShouldContain(want string) error {
	if got := tc.LastHeader.Get("Content-Type"); !strings.Contains(got, want) {
		return fmt.Errorf("expected content type containing %q, got %q", want, got)
	}
	return nil
}

func (tc *TestContext) theResponseShouldContain(want string) error {
	if !bytes.Contains(tc.LastBody, []byte(want)) {
		return fmt.Errorf("expected response to contain %q, got %s", want, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theErrorShouldMention(want string) error {
	var resp server.ErrorResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return fmt.Errorf("response is not a JSON error: %w: %s", err, tc.LastBody)
	}
	if resp.Success {
		return errors.New("error response has success=true")
	}
	if !strings.Contains(resp.Error+strings.Join(resp.Fields, " "), want) {
		return fmt.Errorf("expected error mentioning %q, got %q %v", want, resp.Error, resp.Fields)
	}
	return nil
}

func (tc *TestContext) result() (*pipeline.ScanResult, error) {
	var resp server.ScanResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}
	if !resp.Success || resp.ScanResult == nil {
		return nil, fmt.Errorf("scan did not succeed: %s", tc.LastBody)
	}
	return resp.ScanResult, nil
}

// book returns the region at the 1-based position n.
func (tc *TestContext) book(n int) (*pipeline.RegionResult, error) {
	res, err := tc.result()
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(res.Regions) {
		return nil, fmt.Errorf("book %d out of range, response has %d", n, len(res.Regions))
	}
	return &res.Regions[n-1], nil
}

func (tc *TestContext) theResponseShouldListBooks(n int) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if len(res.Regions) != n {
		return fmt.Errorf("expected %d books, got %d", n, len(res.Regions))
	}
	for i, r := range res.Regions {
		if r.Index != i {
			return fmt.Errorf("book %d has position index %d", i+1, r.Index)
		}
	}
	return nil
}

func (tc *TestContext) bookShouldBeAt(n, shelf, row, column int) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if p := b.Position; p.ShelfID != shelf || p.Row != row || p.Column != column {
		return fmt.Errorf("book %d is at shelf %d row %d column %d", n, p.ShelfID, p.Row, p.Column)
	}
	return nil
}

func (tc *TestContext) bookShouldBeTitled(n int, title, author string) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if b.Golden.Title != title || b.Golden.Author != author {
		return fmt.Errorf("book %d is %q by %q", n, b.Golden.Title, b.Golden.Author)
	}
	return nil
}

func (tc *TestContext) bookShouldHaveISBN(n int, isbn string) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if b.Golden.ISBN == nil || *b.Golden.ISBN != isbn {
		return fmt.Errorf("book %d has ISBN %v", n, b.Golden.ISBN)
	}
	return nil
}

func (tc *TestContext) bookShouldHaveValidation(n int, verdict string) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if string(b.Validation) != verdict {
		return fmt.Errorf("book %d has validation %q", n, b.Validation)
	}
	return nil
}

func (tc *TestContext) bookShouldHaveConfidence(n int, want float64) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if diff := b.Confidence - want; diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("book %d has confidence %v, want %v", n, b.Confidence, want)
	}
	return nil
}

func (tc *TestContext) bookStageShouldBe(n int, stage, outcome string) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if got := b.Stages[stage]; got != common.Outcome(outcome) {
		return fmt.Errorf("book %d stage %s is %q", n, stage, got)
	}
	return nil
}

func (tc *TestContext) bookShouldBeAction(n int, action string) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if !b.Persisted || string(b.Action) != action {
		return fmt.Errorf("book %d persisted=%v action=%q", n, b.Persisted, b.Action)
	}
	return nil
}

func (tc *TestContext) bookShouldNotBePersisted(n int) error {
	b, err := tc.book(n)
	if err != nil {
		return err
	}
	if b.Persisted {
		return fmt.Errorf("book %d was persisted", n)
	}
	return nil
}

func (tc *TestContext) theStoreShouldHold(n int) error {
	if got := len(tc.Store.Snapshot()); got != n {
		return fmt.Errorf("store holds %d records, want %d", got, n)
	}
	return nil
}

func (tc *TestContext) fetch(ref string) error {
	if ref == "" {
		return errors.New("empty artifact reference")
	}
	resp, err := http.Get(tc.URL() + ref)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", ref, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		return fmt.Errorf("GET %s: content type %q", ref, ct)
	}
	return nil
}

func (tc *TestContext) theAnnotatedImageShouldBeDownloadable() error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	return tc.fetch(res.AnnotatedImageRef)
}

func (tc *TestContext) everyCropShouldBeDownloadable() error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	for _, r := range res.Regions {
		if err := tc.fetch(r.CropRef); err != nil {
			return err
		}
		if err := tc.fetch(r.OCRCropRef); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) iShouldReceiveProgress(stage string) error {
	for _, m := range tc.Messages {
		if m.Type == "progress" && m.Stage == stage {
			return nil
		}
	}
	return fmt.Errorf("no progress message for stage %q among %d messages", stage, len(tc.Messages))
}

func (tc *TestContext) theLastMessageShouldBeResult(n int) error {
	if len(tc.Messages) == 0 {
		return errors.New("no websocket messages received")
	}
	last := tc.Messages[len(tc.Messages)-1]
	if last.Type != "result" || last.Payload == nil {
		return fmt.Errorf("last message is %q: %s", last.Type, last.Error)
	}
	if got := len(last.Payload.Regions); got != n {
		return fmt.Errorf("result lists %d books, want %d", got, n)
	}
	return nil
}

func shelfJPEG() []byte {
	img, _ := testutil.GenerateShelfImage(testutil.DefaultShelfConfig())
	data, err := utils.JPEGBytes(img, 90)
	if err != nil {
		panic(err)
	}
	return data
}
