package model

// DisplayOverride renames events in the dashboard and listings.
// It matches an event by cue name or by the audio file's base name.
type DisplayOverride struct {
	DefaultName    string `json:"defaultName"`
	ActualFileName string `json:"actualFileName"`
	DisplayName    string `json:"displayName"`
}

// Matches reports whether the override applies to e.
func (o DisplayOverride) Matches(e *ExamEvent) bool {
	if o.DefaultName != "" && e.Cue.Matches(o.DefaultName) {
		return true
	}
	return o.ActualFileName != "" && o.ActualFileName == e.AudioFileName()
}

// ApplyOverrides sets DisplayName on every event matched by an override.
// The first matching override wins. It returns the number of events changed.
func ApplyOverrides(events []ExamEvent, overrides []DisplayOverride) int {
	changed := 0
	for i := range events {
		for _, o := range overrides {
			if o.DisplayName == "" || !o.Matches(&events[i]) {
				continue
			}
			if events[i].DisplayName != o.DisplayName {
				events[i].DisplayName = o.DisplayName
				changed++
			}
			break
		}
	}
	return changed
}
