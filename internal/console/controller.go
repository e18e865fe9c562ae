package console

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/middleware/guardware"
)

// Views names the templates rendered by the controller
type Views struct {
	Login   string
	Admin   string
	Account string
}

var DefaultViews = Views{
	Login:   "login",
	Admin:   "admin",
	Account: "account",
}

// Listing is a row of the admin listings table
type Listing struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	District string `json:"district"`
	Price    int    `json:"price"`
}

// LoginRequest payload
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return r.credentials().Validate()
}

func (r LoginRequest) credentials() authclient.Credentials {
	return authclient.Credentials{Username: r.Username, Password: r.Password}
}

// Controller serves the login, logout and protected pages
type Controller struct {
	Views        Views
	Sessions     guardware.SessionFactory
	LoginRoute   string
	AdminRoute   string
	ListingsPath string
	Debug        bool
	Logger       authclient.Logger
}

// viewContext merges the values every view needs into data
func (a *Controller) viewContext(c *fiber.Ctx, data fiber.Map) map[string]any {
	out := map[string]any{
		"title":       "Brokerage Admin",
		"login_route": a.LoginRoute,
		"csrf":        csrfToken(c),
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (a *Controller) LoginShow(c *fiber.Ctx) error {
	session := a.Sessions(c)
	if session.Service.IsAuthenticated(c.UserContext()) {
		if profile, _ := session.Service.AdminUser(c.UserContext()); profile != nil {
			return c.Redirect(a.AdminRoute, fiber.StatusFound)
		}
	}

	return c.Render(a.Views.Login, a.viewContext(c, fiber.Map{
		"title": "Sign in",
	}))
}

func (a *Controller) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed login form")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, a.viewContext(c, fiber.Map{
			"title":    "Sign in",
			"username": payload.Username,
			"error":    err.Error(),
		}))
	}

	if a.Debug {
		a.Logger.Debug("login attempt", "payload", print.MaybePrettyJSON(fiber.Map{"username": payload.Username}))
	}

	session := a.Sessions(c)
	profile, err := session.Service.SignIn(c.UserContext(), payload.credentials())
	if err != nil {
		a.Logger.Info("console sign in failed", "username", payload.Username, "error", err)
		return c.Status(fiber.StatusUnauthorized).Render(a.Views.Login, a.viewContext(c, fiber.Map{
			"title":    "Sign in",
			"username": payload.Username,
			"error":    authclient.ErrorMessage(err),
		}))
	}

	a.Logger.Info("console sign in", "username", profile.Username)

	redirect := guardware.PopRedirect(c, guardware.DefaultRejectedRouteKey, a.AdminRoute)
	return c.Redirect(redirect, fiber.StatusSeeOther)
}

func (a *Controller) Logout(c *fiber.Ctx) error {
	session := a.Sessions(c)
	if err := session.Service.Logout(c.UserContext()); err != nil {
		a.Logger.Warn("console logout", "error", err)
	}

	status := fiber.StatusSeeOther
	if c.Method() == fiber.MethodGet {
		status = fiber.StatusFound
	}
	return c.Redirect(a.LoginRoute, status)
}

// Admin lists properties through the session client. An expired session
// surfaces as an error that the guard turns into a login redirect.
func (a *Controller) Admin(c *fiber.Ctx) error {
	session := guardware.SessionFrom(c)
	decision := guardware.DecisionFrom(c)

	resp, err := session.Client.Get(c.UserContext(), a.ListingsPath)
	if err != nil {
		return err
	}

	var listings []Listing
	if err := resp.Decode(&listings); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "unreadable listings payload")
	}

	profile, _ := session.Service.AdminUser(c.UserContext())
	if profile == nil {
		profile = &authclient.AdminProfile{Username: decision.Username}
	}

	return c.Render(a.Views.Admin, a.viewContext(c, fiber.Map{
		"title":    "Listings",
		"profile":  profile,
		"listings": listings,
		"count":    len(listings),
		"expires":  expiry(c, session),
	}))
}

func (a *Controller) Account(c *fiber.Ctx) error {
	session := guardware.SessionFrom(c)

	data := fiber.Map{"title": "Account"}
	if profile, _ := session.Service.AdminUser(c.UserContext()); profile != nil {
		data["profile"] = profile
		data["login_time"] = profile.LoginTime.Format(time.RFC1123)
	}
	return c.Render(a.Views.Account, a.viewContext(c, data))
}

func expiry(c *fiber.Ctx, session *authclient.Session) string {
	exp, ok, err := session.Service.AccessTokenExpiry(c.UserContext())
	if err != nil || !ok {
		return ""
	}
	return exp.Format(time.Kitchen)
}

func csrfToken(c *fiber.Ctx) string {
	token, _ := c.Locals(csrfContextKey).(string)
	return token
}
