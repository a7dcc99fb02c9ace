package access

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"site-decisions/internal/workflow"
)

func loadedRBAC(t *testing.T) *RBAC {
	t.Helper()
	r := NewRBAC()
	require.NoError(t, r.LoadPolicy(""))
	return r
}

func TestRBACDefaultPolicy(t *testing.T) {
	r := loadedRBAC(t)

	member := workflow.Actor{ID: "anna"}
	assert.True(t, r.Can(member, "approvals", "create"))
	assert.True(t, r.Can(member, "meetings", "vote"))
	assert.False(t, r.Can(member, "meetings", "confirm"))
	assert.False(t, r.Can(member, "approvals", "decide"))

	consultant := workflow.Actor{ID: "ville", Roles: []string{"Consultant"}}
	assert.True(t, r.Can(consultant, "approvals", "decide"))
	assert.True(t, r.Can(consultant, "approvals", "create"), "inherited from member")

	admin := workflow.Actor{ID: "root", Roles: []string{"admin"}}
	assert.True(t, r.Can(admin, "anything", "whatever"))
}

func TestRBACRolesAreFoldedAndInherited(t *testing.T) {
	r := loadedRBAC(t)
	roles := r.Roles(workflow.Actor{ID: "x", Roles: []string{"INSPECTOR"}})
	assert.Equal(t, []string{"inspector", "member"}, roles)
}

func TestRBACPolicyUsersAndAssignments(t *testing.T) {
	r := NewRBAC()
	require.NoError(t, r.LoadPolicyBytes([]byte(`
roles:
  secretary:
    permissions:
      - resource: meetings
        actions: [confirm]
users:
  sanna:
    roles: [secretary]
`)))

	assert.True(t, r.Can(workflow.Actor{ID: "sanna"}, "meetings", "confirm"))
	assert.False(t, r.Can(workflow.Actor{ID: "pekka"}, "meetings", "confirm"))

	r.AssignRole("pekka", "secretary")
	assert.True(t, r.Can(workflow.Actor{ID: "pekka"}, "meetings", "confirm"))
}

func TestRBACWithoutPolicyDenies(t *testing.T) {
	assert.False(t, NewRBAC().Can(workflow.Actor{ID: "anna", Roles: []string{"admin"}}, "meetings", "read"))
}

func TestAuthorizer(t *testing.T) {
	authz := NewAuthorizer(loadedRBAC(t))
	step := workflow.ApprovalStep{ApproverRole: "consultant"}

	assert.True(t, authz.CanDecide(workflow.Actor{ID: "v", Roles: []string{"CONSULTANT"}}, step))
	assert.False(t, authz.CanDecide(workflow.Actor{ID: "i", Roles: []string{"inspector"}}, step))

	m := workflow.Meeting{OwnerID: "olli"}
	assert.True(t, authz.CanManage(workflow.Actor{ID: "olli"}, m, workflow.ActionConfirm))
	assert.True(t, authz.CanManage(workflow.Actor{ID: "s", Roles: []string{"secretary"}}, m, workflow.ActionConfirm))
	assert.False(t, authz.CanManage(workflow.Actor{ID: "anna"}, m, workflow.ActionConfirm))
	assert.True(t, authz.CanManage(workflow.Actor{ID: "s", Roles: []string{"secretary"}}, m, workflow.ActionRespond))
	assert.False(t, authz.CanManage(workflow.Actor{ID: "v", Roles: []string{"consultant"}}, m, workflow.ActionRespond))
}

func TestAuthorizerSecretaryRespondsForAttendee(t *testing.T) {
	engine := workflow.NewEngine(workflow.WithAuthorizer(NewAuthorizer(loadedRBAC(t))))
	m := newVotingMeeting(t)
	vote := workflow.CastVote{AttendeeID: m.Attendees[0].ID, SlotID: m.TimeSlots[1].ID}

	next, err := engine.ApplyMeeting(m, workflow.Actor{ID: "sanna", Roles: []string{"secretary"}}, vote)
	require.NoError(t, err)
	assert.Equal(t, 1, next.TimeSlots[1].VoteCount)

	_, err = engine.ApplyMeeting(m, workflow.Actor{ID: "ville"}, vote)
	assert.ErrorIs(t, err, workflow.ErrNotAuthorized)
}

func TestAuthorizerDelegateConfirmsThroughEngine(t *testing.T) {
	engine := workflow.NewEngine(workflow.WithAuthorizer(NewAuthorizer(loadedRBAC(t))))
	m := newVotingMeeting(t)

	secretary := workflow.Actor{ID: "sanna", Roles: []string{"secretary"}}
	next, err := engine.ApplyMeeting(m, secretary, workflow.ConfirmSlot{SlotID: m.TimeSlots[0].ID})
	require.NoError(t, err)
	assert.Equal(t, workflow.MeetingScheduled, next.Status)

	_, err = engine.ApplyMeeting(m, workflow.Actor{ID: "anna"}, workflow.ConfirmSlot{SlotID: m.TimeSlots[0].ID})
	assert.ErrorIs(t, err, workflow.ErrNotAuthorized)
}

func newVotingMeeting(t *testing.T) workflow.Meeting {
	t.Helper()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, err := workflow.NewMeeting(workflow.MeetingInput{
		Title:   "Site walk",
		OwnerID: "olli",
		Slots: []workflow.SlotInput{
			{Start: start},
			{Start: start.Add(24 * time.Hour)},
		},
		Attendees: []workflow.AttendeeInput{{UserID: "anna"}},
	}, start.Add(-48*time.Hour))
	require.NoError(t, err)
	return m
}

func TestValidEmail(t *testing.T) {
	assert.NoError(t, ValidEmail("anna@example.com"))
	assert.ErrorIs(t, ValidEmail(""), ErrMissingEmail)
	assert.ErrorIs(t, ValidEmail("anna"), ErrInvalidEmail)
	assert.ErrorIs(t, ValidEmail("@example.com"), ErrInvalidEmail)
	assert.ErrorIs(t, ValidEmail("Anna <anna@example.com>"), ErrInvalidEmail)
}

func TestReadAttendeesCSV(t *testing.T) {
	list := "Email,User ID,Name\nanna@example.com,anna,Anna\nnot-an-email,x,X\n,,Empty\nville@example.com,,Ville\n"

	attendees, err := ReadAttendees(strings.NewReader(list))
	require.NoError(t, err)
	assert.Equal(t, []workflow.AttendeeInput{
		{UserID: "anna", Email: "anna@example.com"},
		{Email: "ville@example.com"},
	}, attendees)
}

func TestReadAttendeesUTF16TSV(t *testing.T) {
	list := "ENSISIJAINEN SÄHKÖPOSTI\tOPISKELIJANUMERO\nmatti@example.fi\t0123\n"
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(list))
	require.NoError(t, err)

	attendees, err := ReadAttendees(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, []workflow.AttendeeInput{{UserID: "0123", Email: "matti@example.fi"}}, attendees)
}

func TestReadAttendeesMissingEmailColumn(t *testing.T) {
	_, err := ReadAttendees(strings.NewReader("name\nanna\n"))
	assert.Error(t, err)
}
