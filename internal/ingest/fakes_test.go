package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloudproof/internal/record"
	"cloudproof/internal/source"
)

var errStore = errors.New("store unavailable")

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu          sync.Mutex
	activities  []Activity
	daily       map[userDay]int
	checkpoints map[int64]time.Time

	failInsert     func(Activity) bool
	failRead       error
	failUpsert     error
	failCheckpoint error
	failWrite      error
	reads          int
	upserts        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		daily:       make(map[userDay]int),
		checkpoints: make(map[int64]time.Time),
	}
}

func (s *fakeStore) InsertActivity(_ context.Context, activity Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil && s.failInsert(activity) {
		return errStore
	}
	s.activities = append(s.activities, activity)
	return nil
}

func (s *fakeStore) ReadDailyScore(_ context.Context, userID int64, date time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failRead != nil {
		return 0, false, s.failRead
	}
	total, found := s.daily[userDay{userID: userID, date: date}]
	return total, found, nil
}

func (s *fakeStore) UpsertDailyScore(_ context.Context, userID int64, date time.Time, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpsert != nil {
		return s.failUpsert
	}
	s.daily[userDay{userID: userID, date: date}] = total
	return nil
}

func (s *fakeStore) ReadCheckpoint(_ context.Context, userID int64) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCheckpoint != nil {
		return time.Time{}, false, s.failCheckpoint
	}
	timestamp, found := s.checkpoints[userID]
	return timestamp, found, nil
}

func (s *fakeStore) WriteCheckpoint(_ context.Context, userID int64, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	s.checkpoints[userID] = timestamp
	return nil
}

func (s *fakeStore) dailyTotal(userID int64, date time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily[userDay{userID: userID, date: date}]
}

// fakeSource serves documents from memory and filters by cutoff like the S3 source.
type fakeSource struct {
	objects   []source.Object
	docs      map[string]source.Document
	listErr   error
	lastSince time.Time
	lists     int
}

func (s *fakeSource) add(key string, modified time.Time, records ...record.Raw) {
	if s.docs == nil {
		s.docs = make(map[string]source.Document)
	}
	s.objects = append(s.objects, source.Object{Key: key, LastModified: modified})
	s.docs[key] = source.Document{Records: records}
}

func (s *fakeSource) List(_ context.Context, since time.Time) ([]source.Object, error) {
	s.lists++
	s.lastSince = since
	if s.listErr != nil {
		return nil, s.listErr
	}
	objects := make([]source.Object, 0)
	for _, object := range s.objects {
		if object.LastModified.After(since) {
			objects = append(objects, object)
		}
	}
	return objects, nil
}

func (s *fakeSource) Read(_ context.Context, object source.Object) (source.Document, error) {
	doc, ok := s.docs[object.Key]
	if !ok {
		return source.Document{}, errors.New("unreadable: " + object.Key)
	}
	return doc, nil
}

// fakeSink remembers published batches.
type fakeSink struct {
	batches [][]Activity
	err     error
}

func (s *fakeSink) Publish(_ context.Context, activities []Activity) error {
	s.batches = append(s.batches, activities)
	return s.err
}

func raw(eventTime, eventSource, eventName string) record.Raw {
	return record.Raw{"eventTime": eventTime, "eventSource": eventSource, "eventName": eventName}
}

func event(date time.Time, service, action string) record.Event {
	return record.Event{Timestamp: date.Add(9 * time.Hour), Service: service, Action: action}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
