package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

func TestCanAccess(t *testing.T) {
	admin := userdomain.User{ID: 1, Role: userdomain.RoleAdmin}
	teacher := userdomain.User{ID: 2, Role: userdomain.RoleTeacher}
	student := userdomain.User{ID: 3, Role: userdomain.RoleStudent}
	parent := userdomain.User{ID: 4, Role: userdomain.RoleParent}

	private := channels.Channel{ID: "c-1", Name: "Grade 5 project", MemberIDs: []int64{3}}

	tests := []struct {
		name    string
		user    userdomain.User
		channel channels.Channel
		want    bool
	}{
		{"admin sees private", admin, private, true},
		{"general open to parent", parent, channels.Channel{Name: "General"}, true},
		{"general with hash and spaces", student, channels.Channel{Name: "  #general "}, true},
		{"parent rejected from teachers", parent, channels.Channel{Name: "Teachers"}, false},
		{"teacher into teachers", teacher, channels.Channel{Name: "teachers"}, true},
		{"student into students", student, channels.Channel{Name: "Students"}, true},
		{"student rejected from parents", student, channels.Channel{Name: "parents"}, false},
		{"member of private", student, private, true},
		{"non member of private", parent, private, false},
		{"open to role", parent, channels.Channel{Name: "pta", OpenToRole: userdomain.RoleParent}, true},
		{"anonymous user", userdomain.User{Role: userdomain.RoleStudent}, channels.Channel{Name: "general"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.user, tt.channel))
		})
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	parent := userdomain.User{ID: 4, Role: userdomain.RoleParent}
	list := []channels.Channel{
		{ID: "a", Name: "general"},
		{ID: "b", Name: "teachers"},
		{ID: "c", Name: "parents"},
		{ID: "d", Name: "x", MemberIDs: []int64{4}},
	}

	got := Filter(parent, list)

	ids := make([]string, 0, len(got))
	for _, ch := range got {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("General"))
	assert.True(t, IsReserved("#teachers"))
	assert.False(t, IsReserved("math"))
}
