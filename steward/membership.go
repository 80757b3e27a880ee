package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/PuerkitoBio/goquery"
	"net/http"
	"strings"
)

const membersListCookieName = ".ASPXAUTH"

// membersListTableIDs are the HTML tables holding the group's memberships
var membersListTableIDs = []string{
	"ctl00_Main_rptGroups_ctl03_gvMemberships",
	"ctl00_Main_rptGroups_ctl05_gvMemberships",
}

// GroupMember is a row of the group's membership list
type GroupMember struct {
	ID   string
	Name string
}

// TokenAuthorisation describes who the members list session cookie
// belongs to, and which organisations it has admin access to
type TokenAuthorisation struct {
	UserName      string
	Organisations []string
}

var (
	errTokenNoAdminAccess    = errors.New("The user token provided does not have any admin access!")
	errTokenProfileNotFound  = errors.New("Couldn't find the profile of the user! This should never happen, please check the logs!")
	errTokenProfileNameEmpty = errors.New("Found user profile but couldn't find their name!")
)

// TokenAuthorisationFetcher retrieves the authorisation of the session
// cookie used for the members list
type TokenAuthorisationFetcher interface {
	FetchTokenAuthorisation(ctx context.Context) (*TokenAuthorisation, error)
}

// MembersListFetcher retrieves the group's current membership list
type MembersListFetcher interface {
	FetchMembers(ctx context.Context) ([]GroupMember, error)
}

// membersListScraper fetches the membership list from the group's
// members page, authenticating with a session cookie
type membersListScraper struct {
	config *MembersListConfig
	client *http.Client
}

func newMembersListScraper(config *MembersListConfig, client *http.Client) *membersListScraper {
	if client == nil {
		client = http.DefaultClient
	}
	return &membersListScraper{config: config, client: client}
}

func (m *membersListScraper) FetchMembers(ctx context.Context) ([]GroupMember, error) {
	if m.config == nil || m.config.URL == "" {
		return nil, fmt.Errorf("members list URL not configured")
	}
	doc, err := m.fetch(ctx, m.config.URL)
	if err != nil {
		return nil, fmt.Errorf("error requesting members list: %w", err)
	}
	return parseMembersList(doc), nil
}

// FetchTokenAuthorisation retrieves the profile of the user the session
// cookie belongs to
func (m *membersListScraper) FetchTokenAuthorisation(ctx context.Context) (*TokenAuthorisation, error) {
	if m.config == nil || m.config.ProfileURL == "" {
		return nil, fmt.Errorf("profile URL not configured")
	}
	doc, err := m.fetch(ctx, m.config.ProfileURL)
	if err != nil {
		return nil, fmt.Errorf("error requesting profile: %w", err)
	}
	return parseTokenAuthorisation(doc)
}

// fetch GETs the page with the session cookie, bypassing caches
func (m *membersListScraper) fetch(ctx context.Context, url string) (*goquery.Document, error) {
	timeout := m.config.Timeout
	if timeout <= 0 {
		timeout = DefaultMembersListRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")
	req.AddCookie(&http.Cookie{Name: membersListCookieName, Value: m.config.SessionCookie})

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return doc, nil
}

// parseMembersList extracts the members from every membership table in
// doc. The first cell of each row is the member's name, the second their
// ID. Rows with a blank ID are skipped.
func parseMembersList(doc *goquery.Document) []GroupMember {
	var members []GroupMember
	seen := map[string]struct{}{}
	for _, tableID := range membersListTableIDs {
		doc.Find("table#" + tableID).Find("tr.msl_row, tr.msl_altrow").Each(
			func(_ int, row *goquery.Selection) {
				cells := row.Find("td")
				if cells.Length() < 2 {
					return
				}
				id := strings.TrimSpace(cells.Eq(1).Text())
				if id == "" {
					return
				}
				if _, ok := seen[id]; ok {
					return
				}
				seen[id] = struct{}{}
				members = append(
					members, GroupMember{
						ID:   id,
						Name: strings.TrimSpace(cells.Eq(0).Text()),
					},
				)
			},
		)
	}
	return members
}

// groupMemberIDs returns the set of IDs in members
func groupMemberIDs(members []GroupMember) map[string]struct{} {
	ids := make(map[string]struct{}, len(members))
	for _, m := range members {
		ids[m.ID] = struct{}{}
	}
	return ids
}

// parseTokenAuthorisation reads the profile name and the list of
// organisations from a profile page
func parseTokenAuthorisation(doc *goquery.Document) (*TokenAuthorisation, error) {
	orgs := doc.Find("ul#ulOrgs").First()
	if orgs.Length() == 0 {
		return nil, errTokenNoAdminAccess
	}
	profile := doc.Find("div#profile_main").First()
	if profile.Length() == 0 {
		return nil, errTokenProfileNotFound
	}
	name := profile.Find("h1").First()
	if name.Length() == 0 {
		return nil, errTokenProfileNameEmpty
	}

	auth := &TokenAuthorisation{UserName: strings.TrimSpace(name.Text())}
	orgs.Find("li").Each(
		func(_ int, item *goquery.Selection) {
			auth.Organisations = append(auth.Organisations, strings.TrimSpace(item.Text()))
		},
	)
	return auth, nil
}
