package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/permission"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Contact management commands",
	Long:  `Commands for listing, creating, importing and linking contacts.`,
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	Args:  cobra.NoArgs,
	RunE:  runContactsList,
}

var contactsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a contact",
	Long: `Create a contact on the service.

Example:
  facelink contacts create --name "Jana Novakova" --email jana@example.com --birth-date 1990-04-12`,
	Args: cobra.NoArgs,
	RunE: runContactsCreate,
}

var contactsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import the device address book",
	Long: `Import every device contact as a new contact, one at a time. The import
stops at the first failure; contacts created before it are kept.

Contacts access is requested first. Set FACELINK_DEVICE_CONTACTS to the
exported address book and FACELINK_DEVICE_GRANTS=contacts to skip the prompt.`,
	Args: cobra.NoArgs,
	RunE: runContactsSync,
}

var contactsLinkCmd = &cobra.Command{
	Use:   "link <face-id> <contact-id>",
	Short: "Link a stored face to a contact",
	Long: `Link a stored face (an ID from "facelink history") to a contact.

Example:
  facelink contacts link 42 7`,
	Args: cobra.ExactArgs(2),
	RunE: runContactsLink,
}

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsListCmd, contactsCreateCmd, contactsSyncCmd, contactsLinkCmd)

	contactsListCmd.Flags().Bool("json", false, "Output as JSON")

	contactsCreateCmd.Flags().String("name", "", "Full name (required)")
	contactsCreateCmd.Flags().String("phone", "", "Phone number")
	contactsCreateCmd.Flags().String("email", "", "Email address")
	contactsCreateCmd.Flags().String("address", "", "Postal address")
	contactsCreateCmd.Flags().String("birth-date", "", "Birth date (YYYY-MM-DD)")
	contactsCreateCmd.Flags().String("occupation", "", "Occupation")
	contactsCreateCmd.Flags().String("notes", "", "Free-form notes")
	contactsCreateCmd.Flags().Bool("json", false, "Output as JSON")

	contactsSyncCmd.Flags().Bool("json", false, "Output as JSON")
}

func runContactsList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp()
	if err != nil {
		return err
	}
	provider, err := a.provider(false)
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(1)
	defer cancel()

	list, err := a.contactsController(provider, nil).List(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(list)
	}
	printContacts(list)
	return nil
}

func runContactsCreate(cmd *cobra.Command, args []string) error {
	fields := faceapi.ContactFields{
		Name:       mustGetString(cmd, "name"),
		Phone:      mustGetString(cmd, "phone"),
		Email:      mustGetString(cmd, "email"),
		Address:    mustGetString(cmd, "address"),
		BirthDate:  mustGetString(cmd, "birth-date"),
		Occupation: mustGetString(cmd, "occupation"),
		Notes:      mustGetString(cmd, "notes"),
	}
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp()
	if err != nil {
		return err
	}
	provider, err := a.provider(false)
	if err != nil {
		return err
	}
	// create plus the roster refresh
	ctx, cancel := a.commandContext(2)
	defer cancel()

	contact, err := a.contactsController(provider, nil).Create(ctx, fields)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(contact)
	}
	fmt.Printf("Created contact %d: %s\n", contact.ID, contact.Name)
	return nil
}

type syncOutput struct {
	Imported int               `json:"imported"`
	Contacts []faceapi.Contact `json:"contacts"`
}

func runContactsSync(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp()
	if err != nil {
		return err
	}
	provider, err := a.provider(true)
	if err != nil {
		return err
	}

	imported := 0
	bar := &barProgress{description: "Importing", unit: "contacts", quiet: jsonOutput}
	cc := a.contactsController(provider, func(done, total int) {
		imported = done
		bar.report(done, total)
	})

	// Imports are sequential and unbounded in count; only an interrupt
	// stops them early.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = syncContacts(ctx, cc.Gate(), func() error {
		_, err := cc.SyncFromDevice(ctx)
		return err
	})
	bar.close()
	if err != nil {
		if imported > 0 {
			fmt.Printf("Imported %d contact(s) before the failure\n", imported)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(syncOutput{Imported: imported, Contacts: cc.Contacts()})
	}
	fmt.Printf("Imported %d contact(s), %d on the server\n", imported, len(cc.Contacts()))
	return nil
}

// syncContacts runs sync directly when access is already granted. Otherwise
// it asks, and a successful grant runs the sync itself.
func syncContacts(ctx context.Context, gate *permission.Gate, sync func() error) error {
	state, err := gate.Request(ctx)
	if err != nil {
		return err
	}
	switch state {
	case permission.Granted:
		return sync()
	case permission.Denied:
		return gate.Err()
	}
	return gate.Allow(ctx)
}

func runContactsLink(cmd *cobra.Command, args []string) error {
	faceID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid face ID %q", args[0])
	}
	contactID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid contact ID %q", args[1])
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	provider, err := a.provider(false)
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(1)
	defer cancel()

	ack, err := a.contactsController(provider, nil).LinkFace(ctx, faceID, contactID)
	if err != nil {
		return err
	}
	fmt.Println(ack.Message)
	return nil
}

func printContacts(list []faceapi.Contact) {
	if len(list) == 0 {
		fmt.Println("No contacts")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		rows = append(rows, []string{strconv.Itoa(c.ID), c.Name, c.Phone, c.Email, c.BirthDate})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Name", "Phone", "Email", "Birth date"},
		rows,
		[]columnAlignment{alignRight},
	))
	fmt.Printf("\n%d contacts\n", len(list))
}
