package auth

import "canvas-backend/internal/model"

// 방 안에서의 권한 규칙
//   - OWNER, ADMIN 은 멤버 추방, 방 정보 수정, 역할 변경이 가능하다
//   - OWNER 는 누구도 추방하거나 역할을 바꿀 수 없고, OWNER 역할을 부여할 수도 없다
//   - ADMIN 은 다른 ADMIN 을 추방할 수 없다

func isManager(role model.MemberRole) bool {
	return role == model.RoleOwner || role == model.RoleAdmin
}

// CanRemoveMember actor 가 target 을 추방할 수 있는지
func CanRemoveMember(actor, target model.MemberRole) bool {
	if !isManager(actor) || target == model.RoleOwner {
		return false
	}
	if actor == model.RoleAdmin && target == model.RoleAdmin {
		return false
	}
	return true
}

// CanUpdateRoomInfo 방 이름/설명 수정 권한
func CanUpdateRoomInfo(actor model.MemberRole) bool {
	return isManager(actor)
}

// CanChangeRole actor 가 target 의 역할을 newRole 로 바꿀 수 있는지
func CanChangeRole(actor, target, newRole model.MemberRole) bool {
	if !isManager(actor) || !newRole.Valid() {
		return false
	}
	return target != model.RoleOwner && newRole != model.RoleOwner
}

// CanLeave OWNER 는 방을 떠날 수 없다 (방이 주인 없이 남는다)
func CanLeave(role model.MemberRole) bool {
	return role != model.RoleOwner
}
