package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"camera2url/internal/api"
	"camera2url/internal/camera"
	"camera2url/internal/config"
	"camera2url/internal/device"
	"camera2url/internal/store"
	"camera2url/internal/sysinfo"

	"github.com/kardianos/service"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

// Default paths based on OS and privileges
func getDefaultInstallDir() string {
	if runtime.GOOS == "windows" {
		if isAdmin() {
			return `C:\ProgramData\camera2url`
		}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "camera2url")
		}
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "camera2url")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "camera2url")
	}

	// Linux / macOS
	if isAdmin() {
		return "/opt/camera2url"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "camera2url")
}

// Check if running as Admin/Root
func isAdmin() bool {
	if runtime.GOOS == "windows" {
		_, err := os.Open("\\\\.\\PHYSICALDRIVE0")
		return err == nil
	}
	currentUser, err := user.Current()
	if err != nil {
		return false
	}
	return currentUser.Uid == "0"
}

// prompter reads answers line by line, falling back to defaults.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(label string, defaultValue string) string {
	fmt.Fprintf(p.out, "%s [%s]: ", label, defaultValue)
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

func (p *prompter) confirm(label string) bool {
	return strings.EqualFold(p.ask(label+" [y/N]", "n"), "y")
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	// Copy permissions
	info, err := os.Stat(src)
	if err == nil {
		err = os.Chmod(dst, info.Mode())
	}
	return err
}

// newInstallConfig asks for the settings the daemon needs and returns a
// config with absolute paths under targetDir.
func newInstallConfig(p *prompter, targetDir string) *config.Config {
	cfg := config.Default()
	cfg.DeviceID = p.ask("Device ID", device.ID())
	cfg.DBPath = filepath.Join(targetDir, "camera2url.db")
	cfg.LogPath = filepath.Join(targetDir, "camera2url.log")
	cfg.CameraFolder = filepath.Join(targetDir, "frames")

	fmt.Fprintln(p.out, "\n--- Camera ---")
	fmt.Fprintln(p.out, "  folder:   photos are the newest image in a directory another program writes to.")
	fmt.Fprintln(p.out, "  snapshot: photos are fetched from an IP camera's still-image URL.")
	source := p.ask("Camera source (folder/snapshot)", config.SourceFolder)
	if source == config.SourceSnapshot {
		cfg.CameraSource = config.SourceSnapshot
		url := p.ask("Snapshot URL", "http://192.168.1.10/snapshot.jpg")
		cfg.SnapshotDevices = append(cfg.SnapshotDevices, camera.SnapshotDevice{ID: "cam1", Name: "Camera 1", URL: url})
	} else {
		if source != config.SourceFolder {
			fmt.Fprintf(p.out, "Invalid choice '%s', defaulting to '%s'\n", source, config.SourceFolder)
		}
		cfg.CameraFolder = p.ask("Frames directory", cfg.CameraFolder)
	}

	fmt.Fprintln(p.out, "\n--- Upload target ---")
	for {
		url := p.ask("Upload URL (empty to set later)", "")
		if url == "" {
			break
		}
		if _, err := api.ParseTargetURL(url); err != nil {
			fmt.Fprintf(p.out, "%v\n", err)
			continue
		}
		cfg.TargetURL = url
		verb, err := api.ParseVerb(p.ask("HTTP method", string(api.DefaultVerb)))
		if err != nil {
			fmt.Fprintf(p.out, "%v, using %s\n", err, api.DefaultVerb)
			verb = api.DefaultVerb
		}
		cfg.TargetVerb = string(verb)
		cfg.TargetNote = p.ask("Note", "")
		break
	}

	if p.confirm("\nStart timer mode automatically?") {
		cfg.TimerAutoStart = true
		cfg.TimerUnit = p.ask("Timer unit (seconds/minutes/hours/days)", cfg.TimerUnit)
		fmt.Sscanf(p.ask("Timer value", fmt.Sprint(cfg.TimerValue)), "%d", &cfg.TimerValue)
	}
	return cfg
}

// seedStore writes the installer's target into the store so it becomes the
// current target even when the store already has others.
func seedStore(cfg *config.Config) error {
	if cfg.TargetURL == "" {
		return nil
	}
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	_, err = st.UpsertTarget(api.Verb(cfg.TargetVerb), cfg.TargetURL, cfg.TargetNote)
	return err
}

func InstallCmd(s service.Service) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Interactive installer for the service",
		Run: func(cmd *cobra.Command, args []string) {
			p := newPrompter(os.Stdin, os.Stdout)
			fmt.Println("=== camera2url Installer ===")
			fmt.Println("Tip: Press [Enter] to accept the default value shown in brackets [].")

			amAdmin := isAdmin()

			// 1. Admin Check
			if !amAdmin {
				fmt.Println("⚠️  Warning: You are not running as Administrator/Root.")
				fmt.Println("   Installing a system service typically requires elevated privileges.")
				if runtime.GOOS == "windows" {
					fmt.Println("   On Windows, service registration will be SKIPPED if you continue.")
					fmt.Println("   The application will be installed, but you must run it manually via 'camera2url run'.")
				} else {
					fmt.Println("   If this fails, please run with 'sudo'.")
				}
				if !p.confirm("   Continue anyway?") {
					fmt.Println("Aborted.")
					return
				}
			}

			// 2. Determine Install Location
			targetDir := p.ask("Install Directory", getDefaultInstallDir())
			if err := os.MkdirAll(targetDir, 0755); err != nil {
				fmt.Printf("❌ Error creating directory %s: %v\n", targetDir, err)
				return
			}

			// 3. Self-Copy Binary
			currentExe, err := os.Executable()
			if err != nil {
				fmt.Printf("❌ Error finding current executable: %v\n", err)
				return
			}
			targetExe := filepath.Join(targetDir, filepath.Base(currentExe))

			realCurrent, _ := filepath.EvalSymlinks(currentExe)
			realTarget, _ := filepath.EvalSymlinks(targetExe)

			if realCurrent != realTarget {
				fmt.Printf("-> Copying binary to %s...\n", targetExe)
				os.Remove(targetExe)
				if err := copyFile(currentExe, targetExe); err != nil {
					fmt.Printf("❌ Error copying binary: %v\n", err)
					return
				}
			} else {
				fmt.Println("-> Binary is already in target location. Skipping copy.")
			}

			// 4. Generate Config
			targetConfigPath := filepath.Join(targetDir, config.FileName)
			var cfg *config.Config

			if _, err := os.Stat(targetConfigPath); err == nil {
				fmt.Printf("-> Found existing config at %s. Skipping configuration.\n", targetConfigPath)
				cfg, err = config.Load(targetConfigPath)
				if err != nil {
					fmt.Printf("⚠️  Warning: Could not load existing config: %v\n", err)
					cfg = config.Default()
				}
			} else {
				fmt.Println("-> Generating new configuration...")
				cfg = newInstallConfig(p, targetDir)

				if cfg.CameraSource == config.SourceFolder {
					os.MkdirAll(cfg.CameraFolder, 0755)
				}
				if err := config.Save(targetConfigPath, cfg); err != nil {
					fmt.Printf("❌ Error saving config: %v\n", err)
					return
				}
				if err := seedStore(cfg); err != nil {
					fmt.Printf("⚠️  Warning: Could not save the upload target: %v\n", err)
				}
				fmt.Println("-> Configuration saved.")
			}

			// 5. Register Service (pointing to the new binary)
			if runtime.GOOS == "windows" && !amAdmin {
				fmt.Println("\n-> Skipping Service Registration (Not Admin).")
				fmt.Println("   Installation is complete, but the background service was NOT registered.")
				fmt.Println("   To run the daemon, open a terminal and run:")
				fmt.Printf("   %s run\n", targetExe)
				return
			}

			// kardianos/service registers os.Executable(), so a copied binary
			// must register itself.
			if realCurrent != realTarget {
				fmt.Println("-> Registering service via installed binary...")
				c := exec.Command(targetExe, "service-install")
				c.Stdout = os.Stdout
				c.Stderr = os.Stderr
				if err := c.Run(); err != nil {
					fmt.Printf("❌ Failed to register service: %v\n", err)
					return
				}
			} else {
				fmt.Println("-> Registering service...")
				if err := registerService(s); err != nil {
					fmt.Printf("❌ Service install failed: %v\n", err)
				}
			}

			// 6. Start Service. kardianos/service controls it by name.
			fmt.Println("-> Starting service...")
			if err := s.Start(); err != nil {
				fmt.Printf("⚠️  Service start failed (it might be running): %v\n", err)
			} else {
				fmt.Println("✅ Service started successfully!")
			}

			fmt.Println("\nInstallation Complete!")
			fmt.Printf("Logs:    %s\n", cfg.LogPath)
			fmt.Printf("Config:  %s\n", targetConfigPath)
			if cfg.CameraSource == config.SourceFolder {
				fmt.Printf("Frames:  %s  <-- PUT IMAGES HERE\n", cfg.CameraFolder)
			}
			if cfg.TargetURL == "" {
				fmt.Println("Target:  none yet, run 'camera2url target set <url>'")
			}

			url := controlURL(cfg.ControlAddr, sysinfo.Collect().IPAddress)
			fmt.Printf("Control: %s\n", url)
			qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		},
	}
}

// registerService installs s, replacing an existing definition.
func registerService(s service.Service) error {
	err := s.Install()
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		return err
	}
	fmt.Println("Service definition already exists. Reinstalling...")
	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall existing service: %w", err)
	}
	return s.Install()
}

// Hidden command to actually perform the registration logic from the correct path
func ServiceInstallCmd(s service.Service) *cobra.Command {
	return &cobra.Command{
		Use:    "service-install",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			// Runs inside the installed binary, so s.Install() registers that path.
			if err := registerService(s); err != nil {
				fmt.Printf("Internal Install Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Internal Service Registration Successful.")
		},
	}
}
