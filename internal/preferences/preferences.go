// Package preferences is the per subject, per zone choice of class section
// the operator wants, persisted as an editable json file.
package preferences

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/titanous/json5"
)

const (
	// Version is bumped whenever the file layout changes.
	Version = 1
	// Unset is the desired label written by generation, the operator is
	// expected to replace it.
	Unset = "CHOOSE ONE OPTION"
)

const (
	key_version        = "$version"
	key_last_generated = "last-generated"
)

// ErrNotFound means there is no preferences file yet, generation should run
// first. It is not the same as an empty set of preferences.
var ErrNotFound = fmt.Errorf("preferences not found: %w", os.ErrNotExist)

type ZonePreference struct {
	DesiredLabel string `json:"desired_label"`
	// Options are the labels seen when the file was generated, only there so
	// the operator can pick a valid label.
	Options []string `json:"options"`
}

type SubjectPreference struct {
	LastGenerated time.Time
	// Zones is keyed by zone title.
	Zones map[string]ZonePreference
}

func (s SubjectPreference) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Zones)+1)
	for title, zone := range s.Zones {
		if zone.Options == nil {
			zone.Options = []string{}
		}
		out[title] = zone
	}
	out[key_last_generated] = s.LastGenerated.Format(time.RFC3339)
	return json.Marshal(out)
}

func (s *SubjectPreference) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	s.Zones = make(map[string]ZonePreference, len(raw))
	for key, value := range raw {
		if key == key_last_generated {
			var text string
			err = json.Unmarshal(value, &text)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			s.LastGenerated, err = time.Parse(time.RFC3339, text)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			continue
		}

		var zone ZonePreference
		err = json.Unmarshal(value, &zone)
		if err != nil {
			return fmt.Errorf("zone %q: %w", key, err)
		}
		s.Zones[key] = zone
	}
	return nil
}

// Preferences is keyed by subject name.
type Preferences struct {
	Version  int
	Subjects map[string]SubjectPreference
}

func New() Preferences {
	return Preferences{
		Version:  Version,
		Subjects: map[string]SubjectPreference{},
	}
}

func (p Preferences) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Subjects)+1)
	for name, subject := range p.Subjects {
		out[name] = subject
	}
	out[key_version] = p.Version
	return json.Marshal(out)
}

func (p *Preferences) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	p.Version = 0
	p.Subjects = make(map[string]SubjectPreference, len(raw))
	for key, value := range raw {
		if key == key_version {
			err = json.Unmarshal(value, &p.Version)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			continue
		}

		var subject SubjectPreference
		err = json.Unmarshal(value, &subject)
		if err != nil {
			return fmt.Errorf("subject %q: %w", key, err)
		}
		p.Subjects[key] = subject
	}
	return nil
}

// Desired returns the label wanted for a zone of a subject, ok is false if
// the subject or zone is not in the file at all.
func (p Preferences) Desired(subject, zone string) (label string, ok bool) {
	s, ok := p.Subjects[subject]
	if !ok {
		return "", false
	}
	z, ok := s.Zones[zone]
	if !ok {
		return "", false
	}
	return z.DesiredLabel, true
}

// SubjectNames returns every subject name in sorted order.
func (p Preferences) SubjectNames() []string {
	names := make([]string, 0, len(p.Subjects))
	for name := range p.Subjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ZoneTitles returns the zone titles of a subject in sorted order.
func (p Preferences) ZoneTitles(subject string) []string {
	s := p.Subjects[subject]
	titles := make([]string, 0, len(s.Zones))
	for title := range s.Zones {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}

// Encode renders the preferences file, keys are sorted and indented by four
// spaces so regenerated files diff cleanly.
func Encode(p Preferences) ([]byte, error) {
	out, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Decode parses a preferences file. The operator edits it by hand so json5
// extensions (comments, trailing commas) are accepted.
func Decode(data []byte) (Preferences, error) {
	var loose any
	err := json5.Unmarshal(data, &loose)
	if err != nil {
		return Preferences{}, err
	}
	strict, err := json.Marshal(loose)
	if err != nil {
		return Preferences{}, err
	}

	var p Preferences
	err = json.Unmarshal(strict, &p)
	if err != nil {
		return Preferences{}, err
	}
	if p.Version != Version {
		return Preferences{}, fmt.Errorf(
			"preferences file has version %d but %d is supported, regenerate it",
			p.Version, Version,
		)
	}
	return p, nil
}

// Save overwrites the file at `path`.
func Save(path string, p Preferences) error {
	data, err := Encode(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	dir := filepath.Dir(path)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads the file at `path`, it fails with ErrNotFound if there is none.
func Load(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Preferences{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Preferences{}, err
	}
	p, err := Decode(data)
	if err != nil {
		return Preferences{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}
