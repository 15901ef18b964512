package circles

import "time"

// MemberRole enumerates membership levels inside a circle.
type MemberRole string

const (
	// RoleOwner is the circle creator; exactly one per circle.
	RoleOwner MemberRole = "owner"
	// RoleAdmin may manage invite codes and join requests.
	RoleAdmin MemberRole = "admin"
	// RoleMember is a regular participant.
	RoleMember MemberRole = "member"
)

// JoinRequestStatus tracks the lifecycle of a join request.
type JoinRequestStatus string

const (
	// JoinRequestPending awaits review by an owner or admin.
	JoinRequestPending JoinRequestStatus = "pending"
	// JoinRequestApproved granted membership.
	JoinRequestApproved JoinRequestStatus = "approved"
	// JoinRequestRejected was declined.
	JoinRequestRejected JoinRequestStatus = "rejected"
)

// Circle is a user-created community, the root scope for events.
type Circle struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:255;not null;index"`
	Description string    `gorm:"column:description;type:text"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null"`
	InviteCode  string    `gorm:"column:invite_code;size:16;not null;uniqueIndex:uniq_circles_invite_code"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Circle) TableName() string {
	return "circles"
}

// CircleMember maps one user into one circle with a role. The
// (circle_id, user_id) pair is unique.
type CircleMember struct {
	ID       string     `gorm:"column:id;primaryKey;size:190;not null"`
	CircleID string     `gorm:"column:circle_id;size:190;not null;uniqueIndex:uniq_circle_members,priority:1"`
	UserID   string     `gorm:"column:user_id;size:190;not null;uniqueIndex:uniq_circle_members,priority:2;index:idx_circle_members_user"`
	Role     MemberRole `gorm:"column:role;size:16;not null;default:member"`
	JoinedAt time.Time  `gorm:"column:joined_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CircleMember) TableName() string {
	return "circle_members"
}

// JoinRequest is a pending ask to join a circle without an invite code.
type JoinRequest struct {
	ID         string            `gorm:"column:id;primaryKey;size:190;not null"`
	CircleID   string            `gorm:"column:circle_id;size:190;not null;index:idx_join_requests_circle"`
	UserID     string            `gorm:"column:user_id;size:190;not null"`
	Status     JoinRequestStatus `gorm:"column:status;size:16;not null;default:pending"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	ReviewedAt *time.Time        `gorm:"column:reviewed_at"`
	ReviewedBy string            `gorm:"column:reviewed_by;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (JoinRequest) TableName() string {
	return "join_requests"
}
