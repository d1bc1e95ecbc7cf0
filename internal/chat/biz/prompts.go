package biz

// 固定回复与提示词模板。

const (
	// WelcomeMessage 新会话（以及 clear 之后）的欢迎语。
	WelcomeMessage = `Welcome! I'm your Company Information Assistant.

I can help you find information about any company including:
- Company overview and business model
- Leadership and key executives
- Financial information and performance
- Products and services
- Recent news and developments

Just ask me about any company you're interested in, or upload a PDF or image to analyze!`

	HelpMessage = `Company Chatbot Help

I can help you find information about companies! Here's what you can ask:

**Examples of questions:**
- "Tell me about Apple Inc."
- "What does Microsoft do?"
- "Who is the CEO of Tesla?"
- "What are Google's recent financial results?"
- "Tell me about Amazon's business model"

**Documents:**
- Upload a PDF or an image (PNG, JPEG, GIF, WebP, TIFF, BMP) and I'll extract the company information in it
- Ask follow-up questions about the most recent document you uploaded

**Special commands:**
- 'help' - Show this help message
- 'clear' or 'reset' - Clear conversation history
- 'exit', 'quit', or 'bye' - End the conversation

**Tips:**
- Be specific about the company name
- You can ask about financials, leadership, products, services, and more
- I use real-time search to get the latest information`

	GoodbyeMessage = "Thank you for using the Company Chatbot! Goodbye!"

	ClearedMessage = "Conversation history cleared!"

	EmptyInputMessage = "Please ask me something about a company or upload a document!"

	NotFoundMessage = "I'm sorry, I couldn't find any information about that company. Please check the company name and try again."

	RateLimitedMessage = "I'm receiving a lot of requests right now. Please wait %s and try again."

	// DocumentAnswerPrefix 文档分析回复的前缀。
	DocumentAnswerPrefix = "Here's the company information I found in the document:\n\n"

	// DefaultDocumentQuestion 上传文档但没有附带问题时使用。
	DefaultDocumentQuestion = "Please provide a detailed summary of this document."

	NoTextDetectedMessage = `The file you uploaded appears to contain no readable text that could be extracted.

This could be due to several reasons:
- **Image Quality**: The image might be too blurry, low resolution, or have poor contrast
- **Text Size**: The text might be too small to be accurately recognized
- **Image Format**: Some formats or compression levels can affect recognition accuracy
- **Content Type**: The file might contain only graphics, logos, or diagrams without text
- **Language**: The text might be in a language the recognizer does not support
- **Handwriting**: Recognition works best with printed text, not handwritten content

**Suggestions to improve results:**
1. Ensure the image is high resolution and clear
2. Make sure there's good contrast between text and background
3. Try uploading the image in PNG or JPEG format
4. If possible, scan or photograph documents at 300 DPI or higher
5. Ensure the text is clearly visible and not too small

If you believe this file should contain readable text, please try uploading a clearer version or a different format of the same document.`
)

// 按失败阶段给用户的提示。
const (
	extractionFailedMessage  = "I couldn't read that document. Please check that it is a valid PDF or image and try again."
	unsupportedFileMessage   = "I can only read PDF files and images (PNG, JPEG, GIF, WebP, TIFF, BMP). Please upload one of those formats."
	passwordProtectedMessage = "That PDF is password-protected, so I couldn't read it. Please upload an unlocked copy."
	searchFailedMessage      = "Search is temporarily unavailable. Please try again in a moment."
	modelFailedMessage       = "I'm sorry, I couldn't generate an answer right now. Please try again later."
)

// greetingReplies 按问候规则给出的固定回复。
var greetingReplies = map[string]string{
	RuleGreetingHello:    "Hello! I'm your Company Information Assistant. Ask me about any company, or upload a document to analyze.",
	RuleGreetingThanks:   "You're welcome! Let me know if there's another company you'd like to know about.",
	RuleGreetingFarewell: "Goodbye! Come back any time you need company information.",
}

const (
	// SystemPrompt 所有综合回答共用的系统指令。
	SystemPrompt = `You are a helpful AI assistant specialized in providing accurate company information.
Answer using only the conversation, document and search context provided below.
Maintain a professional and informative tone.`

	// companyInstructions 公司查询的回答要求，附加在问题之后。
	companyInstructions = `Instructions:
1. Analyze the provided search results carefully
2. Extract relevant information that directly answers the user's question
3. Provide a comprehensive but concise response
4. If the search results don't contain enough information to answer the question, clearly state what information is missing
5. Always cite the sources using their [n] markers when providing specific details`

	// documentInstructions 文档分析的输出格式。
	documentInstructions = `Extract all available company information from the document in this format. If information is not available, write "Not specified".

**Company Name:** [Name]
**Industry/Sector:** [Industry]
**Location:** [Location]
**Key Products/Services:** [List]
**Contact Information:** [Details]
**About the Company:** [Description]
**Key People/Leadership:** [Names/Positions]
**Additional Notes:** [Any other relevant info]

Then answer the user's question about the document.`

	rewriteSystemPrompt = "You are an expert at creating search queries for company information."

	rewritePromptTemplate = `Convert the following user question about a company into an optimized search query that will help find the most relevant information.
Keep the company name exactly as the user wrote it (or as it appears in the conversation when the user refers to it indirectly). Do not add any other company names.
%s
User Question: %s

Reply with only the search query (maximum 10 words):`
)
