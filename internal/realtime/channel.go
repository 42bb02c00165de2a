package realtime

import "strings"

// Channel kinds, most specific first. An entity resolves to exactly one
// channel: the first non-empty scope field in this order wins.
const (
	KindSubmissionGroup = "submission_group"
	KindCourseContent   = "course_content"
	KindCourseGroup     = "course_group"
	KindCourse          = "course"
	KindCourseFamily    = "course_family"
	KindOrganization    = "organization"
)

var channelKinds = []string{
	KindSubmissionGroup,
	KindCourseContent,
	KindCourseGroup,
	KindCourse,
	KindCourseFamily,
	KindOrganization,
}

// ChannelScope carries the scope fields of an entity that determine which
// real-time channel its change events are published on.
type ChannelScope struct {
	SubmissionGroupID string `json:"submission_group_id,omitempty"`
	CourseContentID   string `json:"course_content_id,omitempty"`
	CourseGroupID     string `json:"course_group_id,omitempty"`
	CourseID          string `json:"course_id,omitempty"`
	CourseFamilyID    string `json:"course_family_id,omitempty"`
	OrganizationID    string `json:"organization_id,omitempty"`
}

// Channel resolves the scope to its channel name, or "" when every scope
// field is empty.
func (s ChannelScope) Channel() string {
	switch {
	case s.SubmissionGroupID != "":
		return KindSubmissionGroup + ":" + s.SubmissionGroupID
	case s.CourseContentID != "":
		return KindCourseContent + ":" + s.CourseContentID
	case s.CourseGroupID != "":
		return KindCourseGroup + ":" + s.CourseGroupID
	case s.CourseID != "":
		return KindCourse + ":" + s.CourseID
	case s.CourseFamilyID != "":
		return KindCourseFamily + ":" + s.CourseFamilyID
	case s.OrganizationID != "":
		return KindOrganization + ":" + s.OrganizationID
	default:
		return ""
	}
}

// ValidChannel reports whether name has the form {kind}:{id} with a known
// kind and a non-empty id. Subscription requests are checked against this
// before the permission check runs.
func ValidChannel(name string) bool {
	kind, id, ok := strings.Cut(name, ":")
	if !ok || id == "" {
		return false
	}
	for _, known := range channelKinds {
		if kind == known {
			return true
		}
	}
	return false
}
