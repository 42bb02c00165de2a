package repository

import "time"

// Default TTL ceilings, used when a spec is constructed with zero values.
const (
	defaultEntityTTL = 5 * time.Minute
	defaultQueryTTL  = time.Minute
)

// ttls is embedded by every spec so configured TTLs flow in uniformly.
type ttls struct {
	EntityTTL time.Duration
	QueryTTL  time.Duration
}

func (t ttls) TTL() time.Duration {
	if t.EntityTTL > 0 {
		return t.EntityTTL
	}
	return defaultEntityTTL
}

func (t ttls) ListTTL() time.Duration {
	if t.QueryTTL > 0 {
		return t.QueryTTL
	}
	return defaultQueryTTL
}

// queryTags narrows a list's tag set by its filters: a filter on a known
// foreign key binds the list to that parent's tag only, so writes under other
// parents leave it alone. Unfiltered or unrecognized queries fall back to the
// broad {type}:list tag.
func queryTags(entityType string, filters Filters, fkKeys ...string) []string {
	var tags []string
	for _, key := range fkKeys {
		if v := filters[key]; v != "" {
			tags = append(tags, tagFor(key, v))
		}
	}
	if len(tags) == 0 {
		tags = []string{entityType + ":list"}
	}
	return tags
}

// tagFor maps a filter key like "course_id" to its tag "course:{id}".
func tagFor(fkKey, id string) string {
	return fkKey[:len(fkKey)-len("_id")] + ":" + id
}

type CourseSpec struct{ ttls }

func (CourseSpec) EntityType() string { return "course" }

func (CourseSpec) TagsForEntity(c Course) []string {
	tags := []string{"course:" + c.ID, "course:list"}
	if c.CourseFamilyID != "" {
		tags = append(tags, "course_family:"+c.CourseFamilyID)
	}
	if c.OrganizationID != "" {
		tags = append(tags, "organization:"+c.OrganizationID)
	}
	return tags
}

func (CourseSpec) TagsForQuery(filters Filters) []string {
	return queryTags("course", filters, "course_family_id", "organization_id")
}

type CourseContentSpec struct{ ttls }

func (CourseContentSpec) EntityType() string { return "course_content" }

func (CourseContentSpec) TagsForEntity(c CourseContent) []string {
	tags := []string{"course_content:" + c.ID, "course_content:list"}
	if c.CourseID != "" {
		tags = append(tags, "course:"+c.CourseID)
	}
	return tags
}

func (CourseContentSpec) TagsForQuery(filters Filters) []string {
	return queryTags("course_content", filters, "course_id")
}

type CourseGroupSpec struct{ ttls }

func (CourseGroupSpec) EntityType() string { return "course_group" }

func (CourseGroupSpec) TagsForEntity(g CourseGroup) []string {
	tags := []string{"course_group:" + g.ID, "course_group:list"}
	if g.CourseID != "" {
		tags = append(tags, "course:"+g.CourseID)
	}
	return tags
}

func (CourseGroupSpec) TagsForQuery(filters Filters) []string {
	return queryTags("course_group", filters, "course_id")
}

type CourseMemberSpec struct{ ttls }

func (CourseMemberSpec) EntityType() string { return "course_member" }

func (CourseMemberSpec) TagsForEntity(m CourseMember) []string {
	tags := []string{"course_member:" + m.ID, "course_member:list"}
	if m.CourseID != "" {
		tags = append(tags, "course:"+m.CourseID)
	}
	if m.CourseGroupID != "" {
		tags = append(tags, "course_group:"+m.CourseGroupID)
	}
	if m.UserID != "" {
		tags = append(tags, "user:"+m.UserID)
	}
	return tags
}

func (CourseMemberSpec) TagsForQuery(filters Filters) []string {
	return queryTags("course_member", filters, "course_id", "course_group_id", "user_id")
}

type SubmissionGroupSpec struct{ ttls }

func (SubmissionGroupSpec) EntityType() string { return "submission_group" }

func (SubmissionGroupSpec) TagsForEntity(g SubmissionGroup) []string {
	tags := []string{"submission_group:" + g.ID, "submission_group:list"}
	if g.CourseContentID != "" {
		tags = append(tags, "course_content:"+g.CourseContentID)
	}
	if g.CourseID != "" {
		tags = append(tags, "course:"+g.CourseID)
	}
	return tags
}

func (SubmissionGroupSpec) TagsForQuery(filters Filters) []string {
	return queryTags("submission_group", filters, "course_content_id", "course_id")
}

type ResultSpec struct{ ttls }

func (ResultSpec) EntityType() string { return "result" }

func (ResultSpec) TagsForEntity(r Result) []string {
	tags := []string{"result:" + r.ID, "result:list"}
	if r.SubmissionGroupID != "" {
		tags = append(tags, "submission_group:"+r.SubmissionGroupID)
	}
	if r.CourseContentID != "" {
		tags = append(tags, "course_content:"+r.CourseContentID)
	}
	if r.CourseMemberID != "" {
		tags = append(tags, "course_member:"+r.CourseMemberID)
	}
	return tags
}

func (ResultSpec) TagsForQuery(filters Filters) []string {
	return queryTags("result", filters, "submission_group_id", "course_content_id", "course_member_id")
}
