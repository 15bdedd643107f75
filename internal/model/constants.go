package model

// MemberRole 방 멤버 역할
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// String 메서드
func (r MemberRole) String() string {
	return string(r)
}

// Valid 알려진 역할인지 확인
func (r MemberRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}
