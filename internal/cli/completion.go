package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCompletionCmd())
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for sitectl.

To load completions:

Bash:
  $ source <(sitectl completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ sitectl completion bash > /etc/bash_completion.d/sitectl
  # macOS:
  $ sitectl completion bash > $(brew --prefix)/etc/bash_completion.d/sitectl

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ sitectl completion zsh > "${fpath[1]}/_sitectl"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ sitectl completion fish | source

  # To load completions for each session, execute once:
  $ sitectl completion fish > ~/.config/fish/completions/sitectl.fish

PowerShell:
  PS> sitectl completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> sitectl completion powershell > sitectl.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				return rootCmd.GenFishCompletion(os.Stdout, true)
			case "powershell":
				return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unknown shell: %s", args[0])
			}
		},
	}

	return cmd
}
