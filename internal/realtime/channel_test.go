package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelScope_PriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		scope ChannelScope
		want  string
	}{
		{
			name: "submission group wins over course",
			scope: ChannelScope{
				SubmissionGroupID: "sg1",
				CourseID:          "c1",
				OrganizationID:    "o1",
			},
			want: "submission_group:sg1",
		},
		{
			name: "course content wins over course group",
			scope: ChannelScope{
				CourseContentID: "cc1",
				CourseGroupID:   "cg1",
				CourseID:        "c1",
			},
			want: "course_content:cc1",
		},
		{
			name:  "course group before course",
			scope: ChannelScope{CourseGroupID: "cg1", CourseID: "c1"},
			want:  "course_group:cg1",
		},
		{
			name:  "course before family",
			scope: ChannelScope{CourseID: "c1", CourseFamilyID: "f1"},
			want:  "course:c1",
		},
		{
			name:  "family before organization",
			scope: ChannelScope{CourseFamilyID: "f1", OrganizationID: "o1"},
			want:  "course_family:f1",
		},
		{
			name:  "organization alone",
			scope: ChannelScope{OrganizationID: "o1"},
			want:  "organization:o1",
		},
		{
			name:  "empty scope has no channel",
			scope: ChannelScope{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Channel())
		})
	}
}

func TestValidChannel(t *testing.T) {
	assert.True(t, ValidChannel("course:42"))
	assert.True(t, ValidChannel("submission_group:ab-12"))
	assert.True(t, ValidChannel("organization:1"))

	assert.False(t, ValidChannel("course"))
	assert.False(t, ValidChannel("course:"))
	assert.False(t, ValidChannel("grades:42"))
	assert.False(t, ValidChannel(""))
}
