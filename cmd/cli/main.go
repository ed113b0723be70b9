package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"cyclecal/internal/client"
	"cyclecal/internal/db"
	"cyclecal/internal/event"
	"cyclecal/internal/model"
	"cyclecal/internal/rider"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL = getEnv("SERVER_URL", defaultServerURL)
	dbPath    = getEnv("DB_PATH", "./cyclecal.db")
	api       = client.New(client.Opts{BaseURL: serverURL})
	store     = client.NewEventStore(api, zap.NewNop())
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

var rootCmd = &cobra.Command{
	Use:   "cyclecal",
	Short: "CLI for the cycling event calendar",
	Long:  `A CLI to browse events, submit races and manage riders on a cyclecal server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if token := os.Getenv("CYCLECAL_TOKEN"); token != "" {
			api.SetToken(token)
		}
	},
}

var interactCmd = &cobra.Command{
	Use:   "interact",
	Short: "Work with the calendar interactively",
	Run: func(cmd *cobra.Command, args []string) {
		runInteractive(cmd.Context())
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events [type]",
	Short: "List the events of one discipline",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		d, err := model.ParseDiscipline(args[0])
		if err != nil {
			log.Fatal(err)
		}
		events, err := api.EventsByType(cmd.Context(), d)
		if err != nil {
			log.Fatalf("Failed to list events: %v", err)
		}
		printEvents(events)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [type] [url]",
	Short: "Import a race from its registration page",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res := api.SubmitEvent(cmd.Context(), event.SubmitRequest{EventType: model.Discipline(args[0]), URL: args[1]})
		printResult("SubmitEvent", res)
	},
}

var ridersCmd = &cobra.Command{
	Use:   "riders [type] [id]",
	Short: "Show the rider buckets of an event",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		lists, err := api.RiderLists(cmd.Context(), model.Discipline(args[0]), args[1], time.Now())
		if err != nil {
			log.Fatalf("Failed to fetch riders: %v", err)
		}
		printLists(lists)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create random special events for local testing",
	Run: func(cmd *cobra.Command, args []string) {
		n, _ := cmd.Flags().GetInt("count")
		for i := 0; i < n; i++ {
			res := api.SubmitSpecialEvent(cmd.Context(), randomSpecialEvent())
			printResult("SubmitSpecialEvent", res)
		}
	},
}

// userCmd represents the user management command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
}

// createUserCmd creates a user directly in the database
var createUserCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Run: func(cmd *cobra.Command, args []string) {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		userType, _ := cmd.Flags().GetString("type")

		if username == "" || password == "" {
			log.Fatal("Username and password are required")
		}
		if !db.UserType(userType).Valid() {
			log.Fatal("Invalid user type. Must be 'rider' or 'admin'")
		}
		if err := createUser(cmd.Context(), username, password, db.UserType(userType)); err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		fmt.Printf("User %s created successfully with type %s\n", username, userType)
	},
}

func init() {
	rootCmd.AddCommand(interactCmd, eventsCmd, submitCmd, ridersCmd, seedCmd, userCmd)

	seedCmd.Flags().Int("count", 5, "number of events to create")

	createUserCmd.Flags().String("username", "", "Username for the new user")
	createUserCmd.Flags().String("password", "", "Password for the new user")
	createUserCmd.Flags().String("type", "rider", "User type (rider or admin)")
	userCmd.AddCommand(createUserCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Failed to execute CLI: %v", err)
	}
}

// runInteractive handles the interactive CLI flow
func runInteractive(ctx context.Context) {
	for {
		action := selectAction()
		if action == "exit" {
			fmt.Println("Exiting...")
			return
		}

		switch action {
		case "login":
			login(ctx)
		case "list":
			listEvents(ctx)
		case "submit":
			submitEvent(ctx)
		case "special":
			submitSpecialEvent(ctx)
		case "riders":
			showRiders(ctx)
		case "move":
			moveRider(ctx)
		case "interested":
			addInterested(ctx)
		case "describe":
			describeEvent(ctx)
		case "delete":
			deleteEvent(ctx)
		case "clear-cache":
			printResult("ClearCache", api.ClearServerCache(ctx))
		}
	}
}

// selectAction prompts the user to choose an action
func selectAction() string {
	options := []string{
		"login (POST /login)",
		"list (events of a discipline)",
		"submit (import a race by URL)",
		"special (create a team event)",
		"riders (show rider buckets)",
		"move (move a rider between buckets)",
		"interested (mark yourself interested)",
		"describe (edit an event description)",
		"delete (admin: delete an event)",
		"clear-cache (admin: flush server caches)",
		"exit",
	}
	prompt := &survey.Select{
		Message: "Select an action:",
		Options: options,
	}
	var choice string
	survey.AskOne(prompt, &choice)
	return strings.Split(choice, " ")[0]
}

func login(ctx context.Context) {
	var username, password string
	survey.AskOne(&survey.Input{Message: "Username:"}, &username)
	survey.AskOne(&survey.Password{Message: "Password:"}, &password)
	if _, err := api.Login(ctx, username, password); err != nil {
		log.Printf("Login failed: %v", err)
		return
	}
	fmt.Println("Logged in")
}

func promptDiscipline() model.Discipline {
	options := make([]string, 0, len(model.Disciplines))
	for _, d := range model.Disciplines {
		options = append(options, string(d))
	}
	var choice string
	survey.AskOne(&survey.Select{Message: "Discipline:", Options: options}, &choice)
	return model.Discipline(choice)
}

// promptEvent loads the events of a discipline into the store and lets the
// user pick one.
func promptEvent(ctx context.Context) (model.Event, bool) {
	d := promptDiscipline()
	events, err := api.EventsByType(ctx, d)
	if err != nil {
		log.Printf("Failed to list events: %v", err)
		return model.Event{}, false
	}
	if len(events) == 0 {
		fmt.Println("No events")
		return model.Event{}, false
	}
	store.Load(events)

	options := make([]string, len(events))
	for i, ev := range events {
		options[i] = fmt.Sprintf("%s | %s | %s", ev.ID, ev.Date.Format("2006-01-02"), ev.Name)
	}
	var choice int
	survey.AskOne(&survey.Select{Message: "Event:", Options: options}, &choice)
	return store.Get(d, events[choice].ID)
}

func listEvents(ctx context.Context) {
	events, err := api.EventsByType(ctx, promptDiscipline())
	if err != nil {
		log.Printf("Failed to list events: %v", err)
		return
	}
	printEvents(events)
}

func submitEvent(ctx context.Context) {
	var req event.SubmitRequest
	var d string
	survey.AskOne(&survey.Select{Message: "Discipline:", Options: []string{"road", "cx", "xc"}}, &d)
	survey.AskOne(&survey.Input{Message: "Registration URL:"}, &req.URL)
	req.EventType = model.Discipline(d)
	printResult("SubmitEvent", api.SubmitEvent(ctx, req))
}

func submitSpecialEvent(ctx context.Context) {
	def := randomSpecialEvent()
	questions := []*survey.Question{
		{Name: "name", Prompt: &survey.Input{Message: "Name:", Default: def.Name}},
		{Name: "date", Prompt: &survey.Input{Message: "Date (YYYY-MM-DD):", Default: def.Date}},
		{Name: "city", Prompt: &survey.Input{Message: "City:", Default: def.City}},
		{Name: "state", Prompt: &survey.Input{Message: "State:", Default: def.State}},
		{Name: "description", Prompt: &survey.Input{Message: "Description:"}},
	}
	var req event.SpecialEventRequest
	survey.Ask(questions, &req)
	printResult("SubmitSpecialEvent", api.SubmitSpecialEvent(ctx, req))
}

func showRiders(ctx context.Context) {
	ev, ok := promptEvent(ctx)
	if !ok {
		return
	}
	lists, err := api.RiderLists(ctx, ev.EventType, ev.ID, time.Now())
	if err != nil {
		log.Printf("Failed to fetch riders: %v", err)
		return
	}
	printLists(lists)
}

func moveRider(ctx context.Context) {
	ev, ok := promptEvent(ctx)
	if !ok {
		return
	}

	buckets := []string{
		string(rider.Interested), string(rider.Committed),
		string(rider.HousingInterested), string(rider.HousingCommitted),
	}
	var from, to, name, housingURL string
	survey.AskOne(&survey.Select{Message: "From:", Options: buckets}, &from)
	survey.AskOne(&survey.Select{Message: "To:", Options: buckets}, &to)
	survey.AskOne(&survey.Input{Message: "Rider name:"}, &name)
	if rider.IsHousing(rider.List(to)) && ev.HousingURL == "" {
		survey.AskOne(&survey.Input{Message: "Housing URL:"}, &housingURL)
	}

	res := store.MoveRider(ctx, ev.EventType, ev.ID, rider.List(from), rider.List(to), name, housingURL)
	printResult("MoveRider", res)
}

func addInterested(ctx context.Context) {
	ev, ok := promptEvent(ctx)
	if !ok {
		return
	}
	var name string
	survey.AskOne(&survey.Input{Message: "Your name:"}, &name)
	printResult("AddInterested", store.AddInterested(ctx, ev.EventType, ev.ID, name))
}

func describeEvent(ctx context.Context) {
	ev, ok := promptEvent(ctx)
	if !ok {
		return
	}
	var description string
	survey.AskOne(&survey.Multiline{Message: "Description:", Default: ev.Description}, &description)
	res := store.Update(ctx, model.UpdateEventData{
		EventID:     ev.ID,
		EventType:   ev.EventType,
		Description: model.String(description),
	})
	printResult("UpdateEvent", res)
}

func deleteEvent(ctx context.Context) {
	ev, ok := promptEvent(ctx)
	if !ok {
		return
	}
	confirm := false
	survey.AskOne(&survey.Confirm{Message: fmt.Sprintf("Delete %s?", ev.Name)}, &confirm)
	if confirm {
		printResult("DeleteEvent", api.DeleteEvent(ctx, ev.EventType, ev.ID))
	}
}

func createUser(ctx context.Context, username, password string, userType db.UserType) error {
	database, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	userRepo, err := db.NewUserRepository(database.DB, zap.NewNop())
	if err != nil {
		return err
	}
	_, err = userRepo.CreateUser(ctx, username, password, userType)
	return err
}

var (
	places = []struct{ city, state string }{
		{"Boulder", "CO"}, {"Ames", "IA"}, {"Bend", "OR"}, {"Asheville", "NC"}, {"Madison", "WI"},
	}
	kinds = []string{"Team Ride", "Skills Clinic", "Potluck", "Trail Day", "Camp"}
)

// randomSpecialEvent builds a plausible team event a few weeks out.
func randomSpecialEvent() event.SpecialEventRequest {
	p := places[rand.Intn(len(places))]
	return event.SpecialEventRequest{
		Name:  fmt.Sprintf("%s %s", p.city, kinds[rand.Intn(len(kinds))]),
		Date:  time.Now().AddDate(0, 0, 7+rand.Intn(60)).Format("2006-01-02"),
		City:  p.city,
		State: p.state,
	}
}

func printEvents(events []model.Event) {
	for _, ev := range events {
		fmt.Printf("%-12s %s  %-40s %s, %s  (%d interested, %d committed)\n",
			ev.ID, ev.Date.Format("2006-01-02"), ev.Name, ev.City, ev.State,
			len(ev.InterestedRiders), len(ev.CommittedRiders))
	}
}

func printLists(lists client.RiderLists) {
	fmt.Printf("%s (%s)\n", lists.Event.Name, lists.Event.Date.Format("2006-01-02"))
	for _, l := range []rider.List{rider.Registered, rider.Committed, rider.Interested, rider.HousingCommitted, rider.HousingInterested} {
		fmt.Printf("  %-18s %s\n", l+":", strings.Join(lists.Lists.Names(l), ", "))
	}
}

// printResult formats and prints a mutation result
func printResult(method string, res client.Result) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Printf("Failed to marshal response: %v", err)
		return
	}
	fmt.Printf("%s Response:\n%s\n\n", method, string(data))
}
