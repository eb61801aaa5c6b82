package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"analyzer-backend/internal/documents"
	"analyzer-backend/internal/ocr"
	"analyzer-backend/internal/shared/storage/object"
	"analyzer-backend/internal/textgen"
)

// recordingRepo wraps MemoryRepo, records UpdateMany calls and can fail them.
type recordingRepo struct {
	*documents.MemoryRepo

	mu       sync.Mutex
	updates  []documents.Patch
	failWith func(patch documents.Patch, call int) error
	findErr  error
	panicOn  map[documents.Status]bool
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{MemoryRepo: documents.NewMemoryRepo()}
}

func (r *recordingRepo) FindMany(ctx context.Context, f documents.Filter) ([]documents.Document, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.MemoryRepo.FindMany(ctx, f)
}

func (r *recordingRepo) UpdateMany(ctx context.Context, ids []int64, patch documents.Patch) error {
	r.mu.Lock()
	r.updates = append(r.updates, patch)
	call := len(r.updates)
	fail := r.failWith
	r.mu.Unlock()
	if r.panicOn[patch.Status] {
		panic("driver panic on " + string(patch.Status) + " write")
	}
	if fail != nil {
		if err := fail(patch, call); err != nil {
			return err
		}
	}
	return r.MemoryRepo.UpdateMany(ctx, ids, patch)
}

func (r *recordingRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type fakeBlobs struct {
	data   map[string][]byte
	err    error
	panics bool
}

func (f *fakeBlobs) Download(_ context.Context, key string) ([]byte, error) {
	if f.panics {
		panic("blob driver exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobs) DownloadBase64(ctx context.Context, key string) (string, error) {
	data, err := f.Download(ctx, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

type fakeOCR struct {
	text   string
	err    error
	panics bool
	images []ocr.Image
}

func (f *fakeOCR) ExtractText(_ context.Context, images []ocr.Image) (string, error) {
	if f.panics {
		panic("ocr exploded")
	}
	f.images = images
	return f.text, f.err
}

type fakeGenerator struct {
	chunks    []string
	streamErr error
	openErr   error
	block     bool
	req       textgen.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req textgen.Request) (string, error) {
	f.req = req
	if f.openErr != nil {
		return "", f.openErr
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeGenerator) Stream(ctx context.Context, req textgen.Request) (*textgen.Stream, error) {
	f.req = req
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.block {
		return textgen.NewStream(ctx, func(ctx context.Context, emit textgen.Emit) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	}
	return textgen.NewStaticStream(f.chunks, f.streamErr), nil
}

type fixture struct {
	repo  *recordingRepo
	blobs *fakeBlobs
	ocr   *fakeOCR
	gen   *fakeGenerator
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  newRecordingRepo(),
		blobs: &fakeBlobs{data: map[string][]byte{}},
		ocr:   &fakeOCR{text: "rights: clean"},
		gen:   &fakeGenerator{chunks: []string{"Sum", "mary: OK"}},
	}
	f.svc = &Service{
		Repo:             f.repo,
		Blobs:            f.blobs,
		OCR:              f.ocr,
		Generator:        f.gen,
		Prompts:          DefaultPrompts(),
		FinalizeAttempts: 3,
		FinalizeInterval: time.Millisecond,
	}
	return f
}

func (f *fixture) addDocument(t *testing.T, ownerID int64, name, mimeType string, data []byte) int64 {
	t.Helper()
	key := name + "-key"
	f.blobs.data[key] = data
	doc := &documents.Document{
		OwnerID:      ownerID,
		OriginalName: name,
		MimeType:     mimeType,
		BlobKey:      key,
		SizeBytes:    int64(len(data)),
		Status:       documents.StatusUploaded,
	}
	require.NoError(t, f.repo.Create(context.Background(), doc))
	return doc.ID
}

func (f *fixture) status(t *testing.T, ownerID, id int64) documents.Document {
	t.Helper()
	doc, err := f.repo.GetByID(context.Background(), ownerID, id)
	require.NoError(t, err)
	return doc
}

func collect(t *testing.T, run *Run) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-run.Events():
			if !ok {
				return got
			}
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("run did not finish; events so far: %+v", got)
		}
	}
}

func TestAnalyzeStreamsAndCompletesBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF-a"))
	b := f.addDocument(t, 7, "photo.jpg", "image/jpeg", []byte("jpeg-b"))

	run := f.svc.Analyze(context.Background(), 7, nil)
	events := collect(t, run)
	require.NoError(t, run.Err())

	ids := []int64{a, b}
	assert.Equal(t, []Event{
		{DocumentIDs: ids, Status: EventStart},
		{DocumentIDs: ids, Status: EventAnalyzing, Chunk: "Sum"},
		{DocumentIDs: ids, Status: EventAnalyzing, Chunk: "mary: OK"},
		{DocumentIDs: ids, Status: EventCompleted},
	}, events)

	for _, id := range ids {
		doc := f.status(t, 7, id)
		assert.Equal(t, documents.StatusCompleted, doc.Status)
		require.NotNil(t, doc.AnalysisResult)
		assert.Equal(t, "Summary: OK", *doc.AnalysisResult)
	}

	require.Len(t, f.ocr.images, 2)
	assert.Equal(t, "deed", f.ocr.images[0].Name)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-a")), f.ocr.images[0].Base64)
	assert.Equal(t, "image/jpeg", f.ocr.images[1].MimeType)

	assert.Equal(t, DefaultPrompts().System, f.gen.req.System)
	assert.Equal(t, "Analyze the following documents: deed.pdf, photo.jpg\n\nOCR extracted text:\nrights: clean", f.gen.req.User)
	require.Len(t, f.gen.req.Files, 2)
	assert.Equal(t, []byte("jpeg-b"), f.gen.req.Files[1].Data)
}

func TestAnalyzeStorageFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.blobs.err = errors.New("bucket unreachable")

	run := f.svc.Analyze(context.Background(), 7, nil)
	events := collect(t, run)
	require.NoError(t, run.Err())

	require.Len(t, events, 2)
	assert.Equal(t, EventStart, events[0].Status)
	assert.Equal(t, EventFailed, events[1].Status)
	assert.Equal(t, []int64{a}, events[1].DocumentIDs)
	assert.Contains(t, events[1].Error, "bucket unreachable")

	doc := f.status(t, 7, a)
	assert.Equal(t, documents.StatusFailed, doc.Status)
	assert.Nil(t, doc.AnalysisResult)
}

func TestAnalyzeIgnoresIDsOwnedBySomeoneElse(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, 7, "mine.pdf", "application/pdf", []byte("%PDF"))
	foreign := f.addDocument(t, 8, "theirs.pdf", "application/pdf", []byte("%PDF"))

	run := f.svc.Analyze(context.Background(), 7, []int64{foreign, 999})
	events := collect(t, run)

	require.NoError(t, run.Err())
	assert.Empty(t, events)
	assert.Zero(t, f.repo.updateCount())
	assert.Equal(t, documents.StatusUploaded, f.status(t, 8, foreign).Status)
}

func TestAnalyzeDiscardsPartialOutputOnStreamError(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.gen.streamErr = errors.New("connection reset by peer")

	run := f.svc.Analyze(context.Background(), 7, nil)
	events := collect(t, run)

	statuses := make([]EventStatus, 0, len(events))
	for _, evt := range events {
		statuses = append(statuses, evt.Status)
	}
	assert.Equal(t, []EventStatus{EventStart, EventAnalyzing, EventAnalyzing, EventFailed}, statuses)

	doc := f.status(t, 7, a)
	assert.Equal(t, documents.StatusFailed, doc.Status)
	assert.Nil(t, doc.AnalysisResult)
}

func TestAnalyzeEmptySelectionProducesNothing(t *testing.T) {
	f := newFixture(t)

	run := f.svc.Analyze(context.Background(), 7, nil)
	assert.Empty(t, collect(t, run))
	assert.NoError(t, run.Err())
	assert.Zero(t, f.repo.updateCount())
}

func TestAnalyzeSecondRunIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))

	require.NoError(t, f.svc.Analyze(context.Background(), 7, nil).Wait())
	updates := f.repo.updateCount()

	second := f.svc.Analyze(context.Background(), 7, nil)
	assert.Empty(t, collect(t, second))
	assert.Equal(t, updates, f.repo.updateCount())
}

func TestAnalyzeZeroChunksCompletesWithEmptyResult(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.gen.chunks = nil

	events := collect(t, f.svc.Analyze(context.Background(), 7, nil))
	require.Len(t, events, 2)
	assert.Equal(t, EventCompleted, events[1].Status)

	doc := f.status(t, 7, a)
	assert.Equal(t, documents.StatusCompleted, doc.Status)
	require.NotNil(t, doc.AnalysisResult)
	assert.Equal(t, "", *doc.AnalysisResult)
}

func TestAnalyzeOCRFailure(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "scan.png", "image/png", []byte("png"))
	f.ocr.err = errors.New("ocr http status 500")

	events := collect(t, f.svc.Analyze(context.Background(), 7, nil))
	require.Len(t, events, 2)
	assert.Equal(t, EventFailed, events[1].Status)
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
}

func TestAnalyzeGeneratorOpenFailure(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "scan.png", "image/png", []byte("png"))
	f.svc.Generator = textgen.Placeholder{}

	events := collect(t, f.svc.Analyze(context.Background(), 7, nil))
	require.Len(t, events, 2)
	assert.Contains(t, events[1].Error, textgen.ErrNotConfigured.Error())
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
}

func TestAnalyzeRetriesTerminalWrite(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	completedCalls := 0
	f.repo.failWith = func(patch documents.Patch, _ int) error {
		if patch.Status != documents.StatusCompleted {
			return nil
		}
		completedCalls++
		if completedCalls < 3 {
			return errors.New("deadlock detected")
		}
		return nil
	}

	events := collect(t, f.svc.Analyze(context.Background(), 7, nil))
	assert.Equal(t, EventCompleted, events[len(events)-1].Status)
	assert.Equal(t, 3, completedCalls)
	assert.Equal(t, documents.StatusCompleted, f.status(t, 7, a).Status)
}

func TestAnalyzeFallsBackToFailedWhenResultCannotBePersisted(t *testing.T) {
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.repo.failWith = func(patch documents.Patch, _ int) error {
		if patch.Status == documents.StatusCompleted {
			return errors.New("disk full")
		}
		return nil
	}

	events := collect(t, f.svc.Analyze(context.Background(), 7, nil))
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Status)
	assert.Contains(t, last.Error, "persist analysis result")
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.ocr.panics = true

	run := f.svc.Analyze(context.Background(), 7, nil)
	events := collect(t, run)

	err := run.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr exploded")
	require.NotEmpty(t, events)
	assert.Equal(t, EventFailed, events[len(events)-1].Status)
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
}

func TestAnalyzeRecoversBlobFetchPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	b := f.addDocument(t, 7, "scan.png", "image/png", []byte("png"))
	f.blobs.panics = true

	run := f.svc.Analyze(context.Background(), 7, nil)
	events := collect(t, run)

	require.NoError(t, run.Err())
	require.Len(t, events, 2)
	assert.Equal(t, EventStart, events[0].Status)
	assert.Equal(t, EventFailed, events[1].Status)
	assert.Contains(t, events[1].Error, "blob driver exploded")
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, b).Status)
}

func TestAnalyzeRepoPanicOnCompletedWriteFallsBackToFailed(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.repo.panicOn = map[documents.Status]bool{documents.StatusCompleted: true}

	run := f.svc.Analyze(context.Background(), 7, nil)
	events := collect(t, run)

	require.NoError(t, run.Err())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Status)
	assert.Contains(t, last.Error, "driver panic on completed write")
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
}

func TestAnalyzeRepoPanicOnEveryTerminalWriteStillEndsSequence(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.repo.panicOn = map[documents.Status]bool{
		documents.StatusCompleted: true,
		documents.StatusFailed:    true,
	}

	events := collect(t, f.svc.Analyze(context.Background(), 7, nil))
	require.NotEmpty(t, events)
	assert.Equal(t, EventFailed, events[len(events)-1].Status)
}

func TestAnalyzeSelectionErrorEndsWithoutEvents(t *testing.T) {
	f := newFixture(t)
	f.repo.findErr = errors.New("connection refused")

	run := f.svc.Analyze(context.Background(), 7, nil)
	assert.Empty(t, collect(t, run))
	assert.ErrorContains(t, run.Err(), "select documents")
	assert.Zero(t, f.repo.updateCount())
}

func TestAnalyzeFinalizesAfterSubscriberLeaves(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.svc.EventBuffer = 1

	ctx, cancel := context.WithCancel(context.Background())
	run := f.svc.Analyze(ctx, 7, nil)
	first := <-run.Events()
	require.Equal(t, EventStart, first.Status)
	cancel()

	require.NoError(t, run.Wait())
	assert.Equal(t, documents.StatusCompleted, f.status(t, 7, a).Status)
}

func TestAnalyzeCancelOnDisconnectFailsBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	a := f.addDocument(t, 7, "deed.pdf", "application/pdf", []byte("%PDF"))
	f.gen.block = true
	f.svc.CancelOnDisconnect = true

	ctx, cancel := context.WithCancel(context.Background())
	run := f.svc.Analyze(ctx, 7, nil)

	first := <-run.Events()
	require.Equal(t, EventStart, first.Status)
	cancel()

	require.NoError(t, run.Wait())
	assert.Equal(t, documents.StatusFailed, f.status(t, 7, a).Status)
}

func TestPersistedResultIsConcatenationOfChunks(t *testing.T) {
	chunkSets := [][]string{
		{"a"},
		{"", "x", ""},
		{"multi\nline ", "한국어 ", "텍스트"},
		{strings.Repeat("z", 4096), "tail"},
	}
	for _, chunks := range chunkSets {
		f := newFixture(t)
		a := f.addDocument(t, 1, "doc.pdf", "application/pdf", []byte("%PDF"))
		f.gen.chunks = chunks

		var got strings.Builder
		for _, evt := range collect(t, f.svc.Analyze(context.Background(), 1, nil)) {
			if evt.Status == EventAnalyzing {
				got.WriteString(evt.Chunk)
			}
		}
		doc := f.status(t, 1, a)
		require.NotNil(t, doc.AnalysisResult)
		assert.Equal(t, got.String(), *doc.AnalysisResult)
		assert.Equal(t, strings.Join(chunks, ""), *doc.AnalysisResult)
	}
}

func TestAnalyzeFile(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.AnalyzeFile(context.Background(), []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Summary: OK", out)
	assert.Equal(t, "Analyze the following document.", f.gen.req.User)
	require.Len(t, f.gen.req.Files, 1)
	assert.Equal(t, "application/pdf", f.gen.req.Files[0].MimeType)

	_, err = f.svc.AnalyzeFile(context.Background(), []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = f.svc.AnalyzeFile(context.Background(), nil, "image/jpeg")
	assert.ErrorIs(t, err, ErrEmptyFile)

	f.svc.MaxFileBytes = 2
	_, err = f.svc.AnalyzeFile(context.Background(), []byte("abc"), "image/jpg")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", sanitizeError(nil))
	assert.Equal(t, "line one line two", sanitizeError(errors.New("line one\nline two")))
	assert.Len(t, sanitizeError(errors.New(strings.Repeat("e", 900))), maxErrorLength)
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, FailureStorage, classifyFailure(stageErr(FailureStorage, "download: %w", object.ErrNotFound)))
	assert.Equal(t, FailureOCR, classifyFailure(stageErr(FailureOCR, "boom")))
	assert.Equal(t, FailureGeneration, classifyFailure(context.DeadlineExceeded))
	assert.Equal(t, FailureInternal, classifyFailure(errors.New("other")))
}
