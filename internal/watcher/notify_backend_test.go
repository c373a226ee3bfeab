package watcher

import (
	"testing"

	"github.com/rjeczalik/notify"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/glob"
)

type fakeEventInfo struct {
	event notify.Event
	path  string
}

func (e fakeEventInfo) Event() notify.Event { return e.event }
func (e fakeEventInfo) Path() string        { return e.path }
func (e fakeEventInfo) Sys() interface{}    { return nil }

func TestNotifySubscription_Convert(t *testing.T) {
	memFs := fs.NewMemTest()
	root := testPath("proj")
	memFs.MustWriteFile(testPath("proj", "moved-in.txt"), "x")
	memFs.MustMkdirAll(testPath("proj", "build", "out"))

	s := &notifySubscription{
		fs:     memFs,
		ignore: newIgnoreMatcher(glob.NewCache(10), root, []string{"build", "**/*.tmp"}),
	}

	tests := []struct {
		name   string
		event  notify.Event
		path   string
		want   RawEvent
		wantOK bool
	}{
		{"create", notify.Create, testPath("proj", "a.txt"), RawEvent{Path: testPath("proj", "a.txt"), Kind: Added}, true},
		{"write", notify.Write, testPath("proj", "a.txt"), RawEvent{Path: testPath("proj", "a.txt"), Kind: Updated}, true},
		{"remove", notify.Remove, testPath("proj", "a.txt"), RawEvent{Path: testPath("proj", "a.txt"), Kind: Deleted}, true},
		{"rename into tree", notify.Rename, testPath("proj", "moved-in.txt"), RawEvent{Path: testPath("proj", "moved-in.txt"), Kind: Added}, true},
		{"rename out of tree", notify.Rename, testPath("proj", "moved-out.txt"), RawEvent{Path: testPath("proj", "moved-out.txt"), Kind: Deleted}, true},
		{"ignored file", notify.Create, testPath("proj", "x.tmp"), RawEvent{}, false},
		{"ignored directory", notify.Create, testPath("proj", "build"), RawEvent{}, false},
		{"below ignored directory", notify.Write, testPath("proj", "build", "out", "app.js"), RawEvent{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.convert(fakeEventInfo{event: tt.event, path: tt.path})
			if ok != tt.wantOK {
				t.Fatalf("convert ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("convert = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNotifySubscription_ConvertNilIgnore(t *testing.T) {
	s := &notifySubscription{fs: fs.NewMemTest()}
	got, ok := s.convert(fakeEventInfo{event: notify.Create, path: testPath("proj", "a.txt")})
	if !ok || got.Kind != Added {
		t.Errorf("convert = %+v, %v", got, ok)
	}
}
