package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testMembersListHTML = `<html><body>
<table id="ctl00_Main_rptGroups_ctl03_gvMemberships">
  <tr><th>Name</th><th>ID</th></tr>
  <tr class="msl_row"><td>Ada Lovelace</td><td> 1234567 </td></tr>
  <tr class="msl_altrow"><td>Alan Turing</td><td>7654321</td></tr>
  <tr class="msl_row"><td>No ID</td><td>  </td></tr>
</table>
<table id="ctl00_Main_rptGroups_ctl05_gvMemberships">
  <tr class="msl_row"><td>Grace Hopper</td><td>1111111</td></tr>
  <tr class="msl_altrow"><td>Ada Lovelace</td><td>1234567</td></tr>
</table>
<table id="unrelated">
  <tr class="msl_row"><td>Someone Else</td><td>9999999</td></tr>
</table>
</body></html>`

type stubMembersList struct {
	members []GroupMember
	err     error
	calls   int
}

func (s *stubMembersList) FetchMembers(context.Context) ([]GroupMember, error) {
	s.calls++
	return s.members, s.err
}

func TestMembersListScraper(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if c, err := r.Cookie(membersListCookieName); err == nil {
					gotCookie = c.Value
				}
				assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
				_, _ = fmt.Fprint(w, testMembersListHTML)
			},
		),
	)
	t.Cleanup(srv.Close)

	scraper := newMembersListScraper(
		&MembersListConfig{URL: srv.URL, SessionCookie: "session-value", Timeout: time.Second},
		srv.Client(),
	)
	members, err := scraper.FetchMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-value", gotCookie)
	assert.Equal(
		t,
		[]GroupMember{
			{ID: "1234567", Name: "Ada Lovelace"},
			{ID: "7654321", Name: "Alan Turing"},
			{ID: "1111111", Name: "Grace Hopper"},
		},
		members,
	)
}

func TestMembersListScraperErrors(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "denied", http.StatusForbidden)
			},
		),
	)
	t.Cleanup(srv.Close)

	scraper := newMembersListScraper(&MembersListConfig{URL: srv.URL}, srv.Client())
	_, err := scraper.FetchMembers(context.Background())
	assert.ErrorContains(t, err, "error requesting members list: unexpected response status")

	_, err = newMembersListScraper(&MembersListConfig{}, nil).FetchMembers(context.Background())
	assert.ErrorContains(t, err, "members list URL not configured")
}

func TestMakeMemberCommand(t *testing.T) {
	s, session := newTestSteward(t)
	membersList := &stubMembersList{members: []GroupMember{{ID: "1234567", Name: "Ada"}}}
	s.membersList = membersList

	user := testUser("430000000000000001", "ada")
	session.addMember(user.ID, user.Username, testApplicantID)

	h := runInteraction(t, s, newSlashInteraction(user, CommandMakeMember, stringOption("groupmemberid", "1234567")))
	assert.Equal(t, "Successfully made you a member!", h.lastResponse(t))

	roles := session.member(user.ID).Roles
	assert.Contains(t, roles, testMemberRoleID)
	assert.Contains(t, roles, testGuestID)
	assert.NotContains(t, roles, testApplicantID)

	var made []GroupMadeMember
	require.NoError(t, s.db.Find(&made).Error)
	require.Len(t, made, 1)
	assert.Equal(t, sha256Hex("1234567"), made[0].HashedGroupMemberID)

	h = runInteraction(t, s, newSlashInteraction(user, CommandMakeMember, stringOption("groupmemberid", "1234567")))
	assert.Contains(t, h.lastResponse(t), "You're already a member")
}

func TestMakeMemberCommandIDAlreadyUsed(t *testing.T) {
	s, session := newTestSteward(t)
	membersList := &stubMembersList{members: []GroupMember{{ID: "1234567"}}}
	s.membersList = membersList

	_, err := s.writeDB.Create(context.Background(), &GroupMadeMember{HashedGroupMemberID: sha256Hex("1234567")})
	require.NoError(t, err)

	user := testUser("430000000000000002", "copycat")
	session.addMember(user.ID, user.Username, testGuestID)

	h := runInteraction(t, s, newSlashInteraction(user, CommandMakeMember, stringOption("groupmemberid", "1234567")))
	resp := h.lastResponse(t)
	assert.Contains(t, resp, "This student ID has already been used.")
	assert.Contains(t, resp, "<@&"+testCommitteeID+">")
	assert.Zero(t, membersList.calls)
	assert.Empty(t, session.roleAdds)
}

func TestMakeMemberCommandFailures(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		membersList *stubMembersList
		want        string
	}{
		{
			name:        "invalid id",
			id:          "12ab",
			membersList: &stubMembersList{},
			want:        "'12ab' is not a valid TS member ID.",
		},
		{
			name:        "not a member",
			id:          "7654321",
			membersList: &stubMembersList{members: []GroupMember{{ID: "1234567"}}},
			want:        "You must be a member of Test Society to use this command.",
		},
		{
			name:        "members list error",
			id:          "7654321",
			membersList: &stubMembersList{err: errors.New("boom")},
			want:        "referencing error code: " + ErrorCodeMembersListUnavailable,
		},
		{
			name:        "members list empty",
			id:          "7654321",
			membersList: &stubMembersList{},
			want:        "referencing error code: " + ErrorCodeMembersListUnavailable,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				s, session := newTestSteward(t)
				s.membersList = tc.membersList
				user := testUser("430000000000000003", "hopeful")
				session.addMember(user.ID, user.Username, testGuestID)

				h := runInteraction(
					t,
					s,
					newSlashInteraction(user, CommandMakeMember, stringOption("groupmemberid", tc.id)),
				)
				resp := h.lastResponse(t)
				assert.Contains(t, resp, tc.want)
				assert.Contains(t, resp, "when trying to make you a member")
				assert.Empty(t, session.roleAdds)
			},
		)
	}
}

const testProfileHTML = `<html><body>
<div id="profile_main"><h1>Jane Doe</h1></div>
<ul id="ulOrgs">
  <li> Computer Science Society </li>
  <li>Chess Club</li>
</ul>
</body></html>`

type stubTokenAuthorisation struct {
	auth *TokenAuthorisation
	err  error
}

func (s *stubTokenAuthorisation) FetchTokenAuthorisation(context.Context) (*TokenAuthorisation, error) {
	return s.auth, s.err
}

func TestFetchTokenAuthorisation(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if c, err := r.Cookie(membersListCookieName); err == nil {
					gotCookie = c.Value
				}
				assert.Equal(t, "/profile", r.URL.Path)
				_, _ = fmt.Fprint(w, testProfileHTML)
			},
		),
	)
	t.Cleanup(srv.Close)

	scraper := newMembersListScraper(
		&MembersListConfig{ProfileURL: srv.URL + "/profile", SessionCookie: "session-value"},
		srv.Client(),
	)
	auth, err := scraper.FetchTokenAuthorisation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-value", gotCookie)
	assert.Equal(
		t,
		&TokenAuthorisation{
			UserName:      "Jane Doe",
			Organisations: []string{"Computer Science Society", "Chess Club"},
		},
		auth,
	)

	_, err = newMembersListScraper(&MembersListConfig{}, nil).FetchTokenAuthorisation(context.Background())
	assert.ErrorContains(t, err, "profile URL not configured")
}

func TestParseTokenAuthorisation(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		wantErr error
	}{
		{
			name:    "no admin access",
			html:    `<div id="profile_main"><h1>Jane Doe</h1></div>`,
			wantErr: errTokenNoAdminAccess,
		},
		{
			name:    "no profile",
			html:    `<ul id="ulOrgs"><li>Chess Club</li></ul>`,
			wantErr: errTokenProfileNotFound,
		},
		{
			name:    "no name",
			html:    `<div id="profile_main"><p>Jane</p></div><ul id="ulOrgs"><li>Chess Club</li></ul>`,
			wantErr: errTokenProfileNameEmpty,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				doc, err := goquery.NewDocumentFromReader(strings.NewReader(tc.html))
				require.NoError(t, err)
				_, err = parseTokenAuthorisation(doc)
				assert.ErrorIs(t, err, tc.wantErr)
			},
		)
	}
}

func TestGetTokenAuthorisationCommand(t *testing.T) {
	tests := []struct {
		name string
		stub *stubTokenAuthorisation
		want string
	}{
		{
			name: "authorised",
			stub: &stubTokenAuthorisation{
				auth: &TokenAuthorisation{
					UserName:      "Jane Doe",
					Organisations: []string{"Computer Science Society", "Chess Club"},
				},
			},
			want: "Admin token has access to the following MSL Organisations as Jane Doe:\n" +
				"Computer Science Society, \nChess Club",
		},
		{
			name: "no admin access",
			stub: &stubTokenAuthorisation{err: errTokenNoAdminAccess},
			want: "The user token provided does not have any admin access!",
		},
		{
			name: "profile name missing",
			stub: &stubTokenAuthorisation{err: errTokenProfileNameEmpty},
			want: "Found user profile but couldn't find their name!",
		},
		{
			name: "request failed",
			stub: &stubTokenAuthorisation{err: errors.New("connection refused")},
			want: "**Contact a <@&" + testCommitteeID + "> member, referencing error code: " +
				ErrorCodeMembersListUnavailable + "**\n" +
				":warning:There was an error when trying to check the token authorisation.:warning:",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				s, session := newTestSteward(t)
				s.tokenAuthorisation = tc.stub
				committee := testUser("430000000000000010", "committee")
				session.addMember(committee.ID, committee.Username, testCommitteeID)

				h := runInteraction(t, s, newSlashInteraction(committee, CommandGetTokenAuthorisation))
				assert.Equal(t, tc.want, h.lastResponse(t))
			},
		)
	}
}
