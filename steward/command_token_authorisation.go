package steward

import (
	"errors"
	"fmt"
	"strings"
)

// runGetTokenAuthorisationCommand reports who the members list session
// cookie belongs to, and which organisations it administers
func runGetTokenAuthorisationCommand(c *commandContext) error {
	auth, err := c.s.tokenAuthorisation.FetchTokenAuthorisation(c.ctx)
	switch {
	case errors.Is(err, errTokenNoAdminAccess):
		c.logger.DebugContext(c.ctx, "no admin table found, token has no admin access")
		return c.reply(err.Error())
	case errors.Is(err, errTokenProfileNotFound):
		c.logger.WarnContext(c.ctx, "profile section missing from profile page")
		return c.reply(err.Error())
	case errors.Is(err, errTokenProfileNameEmpty):
		return c.reply(err.Error())
	case err != nil:
		return &CommandError{
			Code:       ErrorCodeMembersListUnavailable,
			LogMessage: "The token's profile could not be retrieved.",
			Err:        err,
		}
	}

	c.logger.InfoContext(
		c.ctx,
		"retrieved token authorisation",
		"user_name", auth.UserName,
		"organisations", auth.Organisations,
	)
	return c.reply(
		fmt.Sprintf(
			"Admin token has access to the following MSL Organisations as %s:\n%s",
			auth.UserName,
			strings.Join(auth.Organisations, ", \n"),
		),
	)
}
