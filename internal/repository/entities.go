package repository

import (
	"time"

	"github.com/computor-org/computor-realtime/internal/realtime"
)

// The entity types below mirror the course hierarchy:
// organization > course_family > course > course_content / course_group,
// with submission groups and results hanging off course contents.

type Course struct {
	ID             string    `json:"id"`
	CourseFamilyID string    `json:"course_family_id"`
	OrganizationID string    `json:"organization_id"`
	Title          string    `json:"title"`
	Path           string    `json:"path"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c Course) EntityID() string { return c.ID }

// A course's own channel is course:{id}, not its parent's.
func (c Course) Scope() realtime.ChannelScope {
	return realtime.ChannelScope{CourseID: c.ID}
}

type CourseContent struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Position  float64   `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c CourseContent) EntityID() string { return c.ID }

func (c CourseContent) Scope() realtime.ChannelScope {
	return realtime.ChannelScope{CourseContentID: c.ID, CourseID: c.CourseID}
}

type CourseGroup struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g CourseGroup) EntityID() string { return g.ID }

func (g CourseGroup) Scope() realtime.ChannelScope {
	return realtime.ChannelScope{CourseGroupID: g.ID, CourseID: g.CourseID}
}

type CourseMember struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	CourseID      string    `json:"course_id"`
	CourseGroupID string    `json:"course_group_id,omitempty"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (m CourseMember) EntityID() string { return m.ID }

// Membership changes surface on the narrowest scope the member belongs to:
// their group channel when grouped, the course channel otherwise.
func (m CourseMember) Scope() realtime.ChannelScope {
	return realtime.ChannelScope{CourseGroupID: m.CourseGroupID, CourseID: m.CourseID}
}

type SubmissionGroup struct {
	ID              string    `json:"id"`
	CourseID        string    `json:"course_id"`
	CourseContentID string    `json:"course_content_id"`
	MemberIDs       []string  `json:"member_ids"`
	MaxSize         int       `json:"max_size"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (g SubmissionGroup) EntityID() string { return g.ID }

func (g SubmissionGroup) Scope() realtime.ChannelScope {
	return realtime.ChannelScope{
		SubmissionGroupID: g.ID,
		CourseContentID:   g.CourseContentID,
		CourseID:          g.CourseID,
	}
}

type Result struct {
	ID                string    `json:"id"`
	SubmissionGroupID string    `json:"submission_group_id"`
	CourseContentID   string    `json:"course_content_id"`
	CourseMemberID    string    `json:"course_member_id"`
	Status            string    `json:"status"`
	Grade             float64   `json:"grade"`
	VersionIdentifier string    `json:"version_identifier,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r Result) EntityID() string { return r.ID }

// Results are the most tightly scoped events; only the owning submission
// group's subscribers see them.
func (r Result) Scope() realtime.ChannelScope {
	return realtime.ChannelScope{
		SubmissionGroupID: r.SubmissionGroupID,
		CourseContentID:   r.CourseContentID,
	}
}
