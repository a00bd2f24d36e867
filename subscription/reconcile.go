// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package subscription

// Delta is the difference between a desired and a current item set.
type Delta struct {
	// Add holds desired items missing from the current set.
	Add []MonitoredItem
	// Update holds desired items whose parameters differ from the current
	// ones. Entries carry the desired parameters.
	Update []MonitoredItem
	// Remove holds current items no longer desired.
	Remove []MonitoredItem
}

// Empty reports whether nothing needs to change.
func (d Delta) Empty() bool {
	return len(d.Add) == 0 && len(d.Update) == 0 && len(d.Remove) == 0
}

// Reconcile computes the changes that turn current into desired. Items are
// matched by Identity. When desired holds the same identity more than once
// the last entry wins, at the position of the first. Items equal in all
// parameters appear in no partition.
func Reconcile(desired, current []MonitoredItem) Delta {
	want := make(map[Identity]MonitoredItem, len(desired))
	order := make([]Identity, 0, len(desired))
	for _, item := range desired {
		id := item.Identity()
		if _, dup := want[id]; !dup {
			order = append(order, id)
		}
		want[id] = item
	}

	have := make(map[Identity]MonitoredItem, len(current))
	for _, item := range current {
		have[item.Identity()] = item
	}

	var d Delta
	for _, id := range order {
		w := want[id]
		h, ok := have[id]
		switch {
		case !ok:
			d.Add = append(d.Add, w)
		case !w.sameParams(h):
			d.Update = append(d.Update, w)
		}
	}

	removed := make(map[Identity]bool)
	for _, item := range current {
		id := item.Identity()
		if _, ok := want[id]; ok || removed[id] {
			continue
		}
		removed[id] = true
		d.Remove = append(d.Remove, item)
	}
	return d
}
