package addons

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPlanWrapperFlatten(t *testing.T) {
	tests := []struct {
		name        string
		entries     []Entry
		children    []string
		wantWrapper string
		wantMoves   []Move
	}{
		{
			name:        "wrapper around two modules",
			entries:     []Entry{{Name: "addons-main", IsDir: true}},
			children:    []string{"mod_a", "mod_b", "requirements.txt"},
			wantWrapper: "addons-main",
			wantMoves: []Move{
				{From: "addons-main/mod_a", To: "mod_a"},
				{From: "addons-main/mod_b", To: "mod_b"},
				{From: "addons-main/requirements.txt", To: "requirements.txt"},
			},
		},
		{
			name:        "hidden entries ignored",
			entries:     []Entry{{Name: ".DS_Store"}, {Name: "bundle", IsDir: true}},
			children:    []string{"mod_a"},
			wantWrapper: "bundle",
			wantMoves:   []Move{{From: "bundle/mod_a", To: "mod_a"}},
		},
		{
			name:     "sole directory is itself a module",
			entries:  []Entry{{Name: "mod_a", IsDir: true}},
			children: []string{"__manifest__.py", "models"},
		},
		{
			name:     "sole directory is a legacy module",
			entries:  []Entry{{Name: "mod_a", IsDir: true}},
			children: []string{"__openerp__.py"},
		},
		{
			name:     "multiple visible entries",
			entries:  []Entry{{Name: "mod_a", IsDir: true}, {Name: "mod_b", IsDir: true}},
			children: []string{"irrelevant"},
		},
		{
			name:     "sole visible entry is a file",
			entries:  []Entry{{Name: "database.dump"}},
			children: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapper, moves := planWrapperFlatten(tt.entries, tt.children)

			if wrapper != tt.wantWrapper {
				t.Errorf("wrapper = %q, want %q", wrapper, tt.wantWrapper)
			}

			if diff := cmp.Diff(tt.wantMoves, moves); diff != "" {
				t.Errorf("moves mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanNest(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  []Move
	}{
		{
			name:  "flat module",
			names: []string{"__manifest__.py", "models", "views"},
			want: []Move{
				{From: "__manifest__.py", To: "downloaded_module/__manifest__.py"},
				{From: "models", To: "downloaded_module/models"},
				{From: "views", To: "downloaded_module/views"},
			},
		},
		{
			name:  "flat legacy module",
			names: []string{"__openerp__.py", "models"},
			want: []Move{
				{From: "__openerp__.py", To: "downloaded_module/__openerp__.py"},
				{From: "models", To: "downloaded_module/models"},
			},
		},
		{
			name:  "existing synthetic dir is not moved into itself",
			names: []string{"__manifest__.py", "downloaded_module"},
			want: []Move{
				{From: "__manifest__.py", To: "downloaded_module/__manifest__.py"},
			},
		},
		{
			name:  "already nested",
			names: []string{"mod_a", "mod_b", "requirements.txt"},
		},
		{
			name: "empty bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, planNest(tt.names)); diff != "" {
				t.Errorf("moves mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
